// Package recorder contains a capture recorder used to automatically save scope captures to disk.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/wavescope/oscilloscope"
)

// Format is a file format captures can be written in
type Format string

const (
	// CSV is comma separated text, one row per sample
	CSV Format = "csv"

	// FITS is a 16-bit FITS image
	FITS Format = "fits"
)

// ParseFormat returns the format for a name or extension, case insensitive
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimPrefix(s, "."))) {
	case CSV:
		return CSV, nil
	case FITS, "fit":
		return FITS, nil
	default:
		return "", fmt.Errorf("unknown export format %q, must be csv or fits", s)
	}
}

// Recorder records captures with incrementing filenames in yyyy-mm-dd subfolders.
// It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the next file number, 0 before the folder has been scanned
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Format is the file type written by Save
	Format Format

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// now is time.Now outside of tests
	now func() time.Time
}

// New returns a recorder rooted at root
func New(root, prefix string, format Format) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, Format: format, now: time.Now}
}

// updateFolder sets the date subfolder, resetting the counter when the day changes
func (r *Recorder) updateFolder() {
	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	fldr := now.Format("2006-01-02")
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		r.counter = 0
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

func (r *Recorder) ext() string {
	if r.Format == "" {
		return string(CSV)
	}
	return string(r.Format)
}

// scan finds the largest file number already used in dn
func (r *Recorder) scan(dn string) int {
	files, err := os.ReadDir(dn)
	if err != nil {
		return 0
	}
	suffix := "." + r.ext()
	count := 0
	for _, file := range files {
		// skip directories, other formats, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, suffix) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), suffix)
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count
}

// Save writes c to the next file and returns its path
func (r *Recorder) Save(c oscilloscope.Capture) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if r.counter == 0 {
		r.counter = r.scan(fldr) + 1
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.%s", r.Prefix, r.counter, r.ext()))
	fid, err := os.OpenFile(fn, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	if r.Format == FITS {
		err = c.EncodeFITS(fid)
	} else {
		err = c.EncodeCSV(fid)
	}
	if err != nil {
		os.Remove(fn)
		return "", err
	}
	r.counter++
	return fn, fid.Close()
}

// SetRoot updates the root folder of the recorder and creates it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	r.counter = 0
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// SetPrefix updates the filename prefix of the recorder
func (r *Recorder) SetPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = prefix
	r.counter = 0
}

// Settings returns the root, prefix and format
func (r *Recorder) Settings() (root, prefix string, format Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root, r.Prefix, r.Format
}

// SetFormat changes the file type written by Save
func (r *Recorder) SetFormat(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f != r.Format {
		r.Format = f
		r.counter = 0
	}
}
