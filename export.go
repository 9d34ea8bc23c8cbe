package astrotraj

import (
	"bufio"
	"fmt"
	"os"
)

// csvHeader is the fixed output column order. Empty cells mean the field was
// never populated before the trial terminated, not zero.
const csvHeader = "M2,Mns,Mhe,Apre,Apost,epre,epost,R,galcosth,galphi,Vkick,Tmerge,Rmerge,Rmerge_proj,Vfinal,dEfrac,flag"

// CSVSink streams one row per trial to a file. It is written to by exactly
// one goroutine (the driver's fan-in collector).
type CSVSink struct {
	f *os.File
	w *bufio.Writer
}

// NewCSVSink creates the output file and writes the header.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintln(w, "# masses in Msun, separations in Rsun, distances in kpc, speeds in km/s, Tmerge in Gyr"); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := fmt.Fprintln(w, csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVSink{f: f, w: w}, nil
}

// Write appends one trial row.
func (s *CSVSink) Write(t *Trial) error {
	_, err := fmt.Fprintln(s.w, t.CSV())
	return err
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
