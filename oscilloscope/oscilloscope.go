// Package oscilloscope provides the raw capture type shared by the scope and
// its exporters, and encodes captures as CSV or FITS.
package oscilloscope

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"

	"github.jpl.nasa.gov/bdube/wavescope/adc"
)

var (
	// ErrEmpty is generated when an empty capture is encoded
	ErrEmpty = errors.New("capture holds no samples")

	crcTable = crc.NewTable(crc.CRC32)
)

// Capture is the raw data behind one displayed frame
type Capture struct {
	// Channels lists the inputs in the order of Raw, primary first
	Channels []adc.Channel `json:"channels"`

	// Raw holds the codes of each channel
	Raw [][]uint16 `json:"raw"`

	// SampleRate is in samples per second, zero when unknown
	SampleRate float64 `json:"sampleRate"`

	// Elapsed is the duration of the capture
	Elapsed time.Duration `json:"elapsed"`

	// Time is when the capture was taken
	Time time.Time `json:"time"`
}

// Len is the number of rows in the capture, the shortest channel
func (c Capture) Len() int {
	if len(c.Raw) == 0 {
		return 0
	}
	n := len(c.Raw[0])
	for _, r := range c.Raw[1:] {
		if len(r) < n {
			n = len(r)
		}
	}
	return n
}

// Voltages returns the data of channel i in volts
func (c Capture) Voltages(i int) []float64 {
	return adc.Voltages(c.Raw[i])
}

// EncodeCSV writes the capture as CSV with columns
// index,ch1_raw,ch1_voltage[,ch2_raw,ch2_voltage]
// and voltages to four decimals
func (c Capture) EncodeCSV(w io.Writer) error {
	n := c.Len()
	if n == 0 {
		return ErrEmpty
	}
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	labels := []string{"index"}
	for i := range c.Raw {
		labels = append(labels, fmt.Sprintf("ch%d_raw", i+1), fmt.Sprintf("ch%d_voltage", i+1))
	}
	if err := writer.Write(labels); err != nil {
		return err
	}
	row := make([]string, len(labels))
	for j := 0; j < n; j++ {
		row[0] = strconv.Itoa(j)
		for i, r := range c.Raw {
			row[1+2*i] = strconv.Itoa(int(r[j]))
			row[2+2*i] = strconv.FormatFloat(adc.Voltage(r[j]), 'f', 4, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

// EncodeFITS writes the capture as a 16-bit FITS image of shape
// [samples, channels].  The codes fit in int16 without an offset.
func (c Capture) EncodeFITS(w io.Writer) error {
	n := c.Len()
	if n == 0 {
		return ErrEmpty
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{n, len(c.Raw)}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "VREF", Value: adc.VRef, Comment: "converter reference, volts"},
		{Name: "MAXCODE", Value: adc.MaxCode, Comment: "full scale code"},
		{Name: "RATE", Value: c.SampleRate, Comment: "samples per second"},
		{Name: "ELAPSED", Value: c.Elapsed.Seconds(), Comment: "capture duration, seconds"},
		{Name: "DATE-OBS", Value: c.Time.UTC().Format(time.RFC3339)},
	}
	for i, ch := range c.Channels {
		cards = append(cards, fitsio.Card{
			Name:    fmt.Sprintf("CHANNEL%d", i+1),
			Value:   int(ch),
			Comment: "converter input of image row"})
	}
	if err = im.Header().Append(cards...); err != nil {
		return err
	}
	ints := make([]int16, n*len(c.Raw))
	for i, r := range c.Raw {
		for j := 0; j < n; j++ {
			ints[i*n+j] = int16(r[j])
		}
	}
	if err = im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}

// Checksum is the CRC-32 of the raw codes of every channel in order,
// each code little endian
func (c Capture) Checksum() uint32 {
	sum := crcTable.InitCrc()
	b := make([]byte, 2)
	for _, r := range c.Raw {
		for _, v := range r {
			binary.LittleEndian.PutUint16(b, v)
			sum = crcTable.UpdateCrc(sum, b)
		}
	}
	return crcTable.CRC32(sum)
}
