package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileSource reads command lines from a print job file. Comments and
// blank lines are stripped before they enter the pipeline, so the
// reported offset counts only lines that were actually delivered.
type FileSource struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	offset int
	done   bool
}

// OpenFileSource opens a job file as a line source.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	return &FileSource{
		path:   path,
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// NextLine returns the next command line from the file.
func (fs *FileSource) NextLine() (Line, bool) {
	if fs.done {
		return Line{}, false
	}
	for {
		raw, err := fs.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			// A read failure ends the stream; the connection notices
			// the early exhaustion against the expected job size.
			fs.close()
			return Line{}, false
		}
		atEOF := err == io.EOF

		if text := cleanLine(raw); text != "" {
			fs.offset++
			if atEOF {
				fs.close()
			}
			return NewLine(text), true
		}
		if atEOF {
			fs.close()
			return Line{}, false
		}
	}
}

// CurrentOffset returns the number of lines delivered so far.
func (fs *FileSource) CurrentOffset() int {
	return fs.offset
}

// SkipTo advances the source so the next delivered line is the one at
// the given offset, replaying a resume position. Already-acknowledged
// lines are consumed and discarded, never re-delivered.
func (fs *FileSource) SkipTo(offset int) error {
	for fs.offset < offset {
		if _, ok := fs.NextLine(); !ok {
			return fmt.Errorf("resume offset %d beyond end of %s", offset, fs.path)
		}
	}
	return nil
}

// DebugInfo returns a snapshot of the source position.
func (fs *FileSource) DebugInfo() string {
	return fmt.Sprintf("file source %s offset=%d done=%v", fs.path, fs.offset, fs.done)
}

// Close releases the underlying file.
func (fs *FileSource) Close() error {
	if fs.file == nil {
		fs.done = true
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	fs.done = true
	return err
}

func (fs *FileSource) close() {
	fs.done = true
	if fs.file != nil {
		fs.file.Close()
		fs.file = nil
	}
}

// CountFileLines counts the transmittable lines of a job file, the
// denominator for percent-done accounting. Comments and blanks are
// excluded, matching what FileSource delivers.
func CountFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if cleanLine(scanner.Text()) != "" {
			n++
		}
	}
	return n, scanner.Err()
}

// cleanLine strips comments and surrounding whitespace from a raw
// file line. Returns "" when nothing remains to transmit.
func cleanLine(raw string) string {
	line := strings.TrimRight(raw, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// ScriptSource serves lines from an in-memory script, such as a macro
// buffer or an injected G-code snippet.
type ScriptSource struct {
	lines  []string
	offset int
}

// NewScriptSource splits a newline-separated script into a source.
func NewScriptSource(script string) *ScriptSource {
	return &ScriptSource{lines: SplitScript(script)}
}

// NewScriptSourceLines wraps pre-split lines as a source.
func NewScriptSourceLines(lines []string) *ScriptSource {
	return &ScriptSource{lines: lines}
}

// NextLine returns the next script line.
func (ss *ScriptSource) NextLine() (Line, bool) {
	if ss.offset >= len(ss.lines) {
		return Line{}, false
	}
	line := NewLine(ss.lines[ss.offset])
	ss.offset++
	return line, true
}

// CurrentOffset returns the number of lines delivered so far.
func (ss *ScriptSource) CurrentOffset() int {
	return ss.offset
}

// DebugInfo returns a snapshot of the script position.
func (ss *ScriptSource) DebugInfo() string {
	return fmt.Sprintf("script source offset=%d/%d", ss.offset, len(ss.lines))
}

// SplitScript splits a newline-separated G-code script into clean
// command lines, dropping comments and blanks.
func SplitScript(script string) []string {
	var lines []string
	for _, raw := range strings.Split(script, "\n") {
		if text := cleanLine(raw); text != "" {
			lines = append(lines, text)
		}
	}
	return lines
}
