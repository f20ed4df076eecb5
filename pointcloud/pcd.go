// Package pointcloud reads and writes point clouds in the PCD format.
package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the data encoding of a pcd file.
type PCDType int

const (
	// PCDAscii writes one point per line.
	PCDAscii PCDType = iota
	// PCDBinary writes little endian float32 triples.
	PCDBinary
	// PCDCompressed is recognized but not supported.
	PCDCompressed
)

// ParsePCDType parses "ascii" or "binary".
func ParsePCDType(name string) (PCDType, error) {
	switch strings.ToLower(name) {
	case "ascii":
		return PCDAscii, nil
	case "binary":
		return PCDBinary, nil
	default:
		return 0, errors.Errorf("unsupported pcd data type %q", name)
	}
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// ToPCD writes points, given in millimeters, as an unorganized cloud in meters.
func ToPCD(points []r3.Vector, out io.Writer, outputType PCDType) error {
	var data string
	switch outputType {
	case PCDAscii:
		data = "ascii"
	case PCDBinary:
		data = "binary"
	case PCDCompressed:
		return errors.New("compressed pcd not yet implemented")
	default:
		return errors.Errorf("unknown pcd data type %d", outputType)
	}
	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n", len(points), len(points), data); err != nil {
		return err
	}

	buf := make([]byte, 12)
	for _, p := range points {
		x, y, z := p.X/1000., p.Y/1000., p.Z/1000.
		var err error
		if outputType == PCDBinary {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(x)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(z)))
			_, err = w.Write(buf)
		} else {
			_, err = fmt.Fprintf(w, "%f %f %f\n", x, y, z)
		}
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

type pcdHeader struct {
	width     uint64
	height    uint64
	viewpoint [7]float64
	points    uint64
	data      PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if value != "x y z" {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if value != "4 4 4" {
			return errors.Errorf("unsupported pcd sizes %s", value)
		}
	case "TYPE":
		if value != "F F F" {
			return errors.Errorf("unsupported pcd types %s", value)
		}
	case "COUNT":
		if len(tokens) != 3 {
			return errors.New("unexpected number of fields in COUNT line")
		}
	case "WIDTH":
		if header.width, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		if header.height, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for i, token := range tokens {
			if header.viewpoint[i], err = strconv.ParseFloat(token, 64); err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		if header.points, err = strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unknown pcd data %s", value)
		}
	}
	return nil
}

// ReadPCD reads an x y z cloud written by ToPCD and returns its points in millimeters.
func ReadPCD(inRaw io.Reader) ([]r3.Vector, error) {
	var header pcdHeader
	in := bufio.NewReader(inRaw)
	for headerLineCount := 0; headerLineCount < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) ([]r3.Vector, error) {
	points := make([]r3.Vector, 0, header.points)
	for i := uint64(0); i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != 3 {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		var xyz [3]float64
		for j, token := range tokens {
			if xyz[j], err = strconv.ParseFloat(token, 64); err != nil {
				return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
			}
		}
		points = append(points, r3.Vector{X: xyz[0] * 1000, Y: xyz[1] * 1000, Z: xyz[2] * 1000})
	}
	return points, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) ([]r3.Vector, error) {
	points := make([]r3.Vector, 0, header.points)
	buf := make([]byte, 12)
	for i := uint64(0); i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "cannot read point %d", i)
		}
		points = append(points, r3.Vector{
			X: readFloat(binary.LittleEndian.Uint32(buf)) * 1000,
			Y: readFloat(binary.LittleEndian.Uint32(buf[4:])) * 1000,
			Z: readFloat(binary.LittleEndian.Uint32(buf[8:])) * 1000,
		})
	}
	return points, nil
}

func readFloat(n uint32) float64 {
	f := float64(math.Float32frombits(n))
	return math.Round(f*10000) / 10000
}
