package model

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/skymap"
)

// FieldReader is just a simple reader for basic file formats.
type FieldReader struct {
	Pos    int
	Fields []string
}

// NewFieldReader constructs a new field reader around the given data
func NewFieldReader(data string) *FieldReader {
	return &FieldReader{0, strings.Fields(data)}
}

// Read returns the next space-delimited field/token
func (fr *FieldReader) Read() (string, error) {
	if fr.Pos >= len(fr.Fields) {
		return "", io.EOF
	}
	p := fr.Pos
	fr.Pos++
	return fr.Fields[p], nil
}

// ReadInt reads the next token as an int
func (fr *FieldReader) ReadInt() (int, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 0)
	return int(i), err
}

// ReadFloat reads the next token as a float
func (fr *FieldReader) ReadFloat() (float64, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(s, 64)
}

// ReadTable reads whitespace separated float rows. Blank lines and lines
// starting with # are skipped. Rows may have different lengths.
func ReadTable(r io.Reader) ([][]float64, error) {
	var rows [][]float64

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fr := NewFieldReader(line)
		row := make([]float64, 0, len(fr.Fields))
		for {
			v, err := fr.ReadFloat()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, "Line %d: bad value", lineNo)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Could not scan table")
	}

	return rows, nil
}

// ReadPositions reads candidate positions from rows "dec ra ..." in
// degrees. Extra columns are ignored.
func ReadPositions(r io.Reader) ([]skymap.Pos, error) {
	rows, err := ReadTable(r)
	if err != nil {
		return nil, err
	}

	const deg = math.Pi / 180
	pos := make([]skymap.Pos, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, errors.Errorf("Position %d has %d columns, need at least 2", i, len(row))
		}
		pos[i] = skymap.Pos{row[0] * deg, row[1] * deg}
	}
	return pos, nil
}

// ReadPositionsFile reads a position table from disk
func ReadPositionsFile(filename string) ([]skymap.Pos, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ positions from %s", filename)
	}
	defer f.Close()

	pos, err := ReadPositions(f)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not PARSE positions %s", filename)
	}
	return pos, nil
}
