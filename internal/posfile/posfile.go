// Package posfile reads and writes Afma4 joint position files.
//
// A position file starts with a "#AFMA4 - Position" marker line, may hold any
// number of "#" comment lines and carries one record line:
//
//	R: X Y A B
//
// X, A and B are the turret, pan and tilt angles in degrees; Y is the vertical
// translation in meters.
package posfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/afma4/internal/fsutil"
	"github.com/banshee-data/afma4/internal/kinematics"
	"github.com/banshee-data/afma4/internal/units"
)

// Marker starts every position file.
const Marker = "#AFMA4 - Position"

const header = Marker + ` - Version 2.01
#
# R: X Y A B
# Joint position: X : rotation of the turret in degrees (joint 1)
#                 Y : vertical translation in meters (joint 2)
#                 A : pan rotation of the camera in degrees (joint 3)
#                 B : tilt rotation of the camera in degrees (joint 4)
#

`

const recordPrefix = "R:"

var (
	ErrBadHeader = errors.New("posfile: missing " + Marker + " marker")
	ErrBadRecord = errors.New("posfile: malformed R: record")
	ErrNoRecord  = errors.New("posfile: no R: record")
)

// rotational marks the axes stored in degrees.
var rotational = [kinematics.NumJoints]bool{true, false, true, true}

// Read parses a position file and returns the joint vector in radians and
// meters.
func Read(r io.Reader) (kinematics.JointVector, error) {
	var q kinematics.JointVector
	scan := bufio.NewScanner(r)

	sawHeader := false
	for lineNo := 1; scan.Scan(); lineNo++ {
		line := strings.TrimSpace(scan.Text())
		if !sawHeader {
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, Marker) {
				return q, fmt.Errorf("%w: line %d is %q", ErrBadHeader, lineNo, line)
			}
			sawHeader = true
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, recordPrefix) {
			continue
		}

		fields := strings.Fields(strings.TrimPrefix(line, recordPrefix))
		if len(fields) != kinematics.NumJoints {
			return q, fmt.Errorf("%w: line %d has %d values, want %d", ErrBadRecord, lineNo, len(fields), kinematics.NumJoints)
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return q, fmt.Errorf("%w: line %d: %v", ErrBadRecord, lineNo, err)
			}
			if rotational[i] {
				v = units.DegToRad(v)
			}
			q[i] = v
		}
		return q, nil
	}
	if err := scan.Err(); err != nil {
		return q, err
	}
	if !sawHeader {
		return q, ErrBadHeader
	}
	return q, ErrNoRecord
}

// Write renders q as a position file.
func Write(w io.Writer, q kinematics.JointVector) error {
	values := make([]string, len(q))
	for i, v := range q {
		if rotational[i] {
			v = units.RadToDeg(v)
		}
		values[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	_, err := fmt.Fprintf(w, "%s%s %s\n", header, recordPrefix, strings.Join(values, " "))
	return err
}

// ReadFile reads the position file at path.
func ReadFile(fsys fsutil.FileSystem, path string) (kinematics.JointVector, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return kinematics.JointVector{}, err
	}
	q, err := Read(bytes.NewReader(data))
	if err != nil {
		return q, fmt.Errorf("%s: %w", path, err)
	}
	return q, nil
}

// WriteFile writes q to path, replacing any existing file atomically.
func WriteFile(fsys fsutil.FileSystem, path string, q kinematics.JointVector) error {
	var buf bytes.Buffer
	if err := Write(&buf, q); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(fsys, path, buf.Bytes(), 0o644)
}
