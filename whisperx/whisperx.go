package whisperx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"teachings/logger"
	"teachings/teachings"
)

// ErrNoSegments marks JSON that is not a whisperx result, such as a video
// mapping file stored next to the transcripts.
var ErrNoSegments = errors.New("no whisperx segments")

type (
	transcribeResult struct {
		Segments *[]segment `json:"segments"`
	}

	segment struct {
		Text  string           `json:"text"`
		Start *decimal.Decimal `json:"start"`
		End   *decimal.Decimal `json:"end"`
	}
)

// Decode reads a whisperx JSON result into transcript rows. Segments without
// a start or end keep an empty time so the splitter rejects the teaching.
func Decode(r io.Reader, teachingID string) (teachings.Transcript, error) {
	var tr transcribeResult
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return teachings.Transcript{}, fmt.Errorf("decoding whisperx json result: %w", err)
	}
	if tr.Segments == nil {
		return teachings.Transcript{}, ErrNoSegments
	}
	segments := *tr.Segments

	res := teachings.Transcript{
		TeachingID: teachingID,
		Rows:       make([]teachings.TranscriptRow, 0, len(segments)),
	}
	for _, s := range segments {
		res.Rows = append(res.Rows, teachings.TranscriptRow{
			TeachingID: teachingID,
			Text:       strings.TrimSpace(s.Text),
			Start:      decimalString(s.Start),
			End:        decimalString(s.End),
		})
	}
	return res, nil
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Transcriber runs the whisperx CLI on a media file and decodes its JSON
// output.
type Transcriber struct {
	OutputDir string
	Log       *logger.Logger
}

func (w Transcriber) Transcribe(ctx context.Context, teachingID string, filePath string) (teachings.Transcript, error) {
	log := w.Log
	if log == nil {
		log = logger.Nop()
	}
	outDir := w.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(filePath)
	}

	cmd := exec.CommandContext(ctx, "whisperx", filePath, "--output_format", "json", "--output_dir", outDir)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("whisperx stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("whisperx stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return teachings.Transcript{}, fmt.Errorf("starting whisperx: %w", err)
	}

	done := make(chan struct{}, 2)
	for _, pipe := range []io.Reader{stderr, stdout} {
		go func() {
			defer func() { done <- struct{}{} }()
			scanner := bufio.NewScanner(pipe)
			for scanner.Scan() {
				log.Debug("whisperx", "line", scanner.Text())
			}
		}()
	}
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		return teachings.Transcript{}, fmt.Errorf("transcribing with whisperx: %w", err)
	}

	base := filepath.Base(filePath)
	resultPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".json")
	f, err := os.Open(resultPath)
	if err != nil {
		return teachings.Transcript{}, fmt.Errorf("opening whisperx transcribe result: %w", err)
	}
	defer f.Close()

	t, err := Decode(f, teachingID)
	if err != nil {
		return teachings.Transcript{}, err
	}
	t.Source = resultPath
	return t, nil
}
