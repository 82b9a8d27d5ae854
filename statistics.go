package r2n2

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"
)

// Statistics records one row per reconstruction.
type Statistics struct {
	sync.Mutex
	Views    []int
	Occupied []float32
	Elapsed  []time.Duration
}

func makeStatistics() Statistics {
	return Statistics{
		Views:    make([]int, 0, 64),
		Occupied: make([]float32, 0, 64),
		Elapsed:  make([]time.Duration, 0, 64),
	}
}

func (s *Statistics) update(views int, occupied float32, elapsed time.Duration) {
	s.Lock()
	s.Views = append(s.Views, views)
	s.Occupied = append(s.Occupied, occupied)
	s.Elapsed = append(s.Elapsed, elapsed)
	s.Unlock()
}

// Runs is the number of reconstructions recorded.
func (s *Statistics) Runs() int {
	s.Lock()
	defer s.Unlock()
	return len(s.Views)
}

// Dump writes the statistics as CSV to filename.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	s.Lock()
	defer s.Unlock()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"run", "views", "occupied", "elapsed_ms"}); err != nil {
		return err
	}
	records := make([][]string, 0, len(s.Views))
	for i := range s.Views {
		records = append(records, []string{
			strconv.Itoa(i),
			strconv.Itoa(s.Views[i]),
			strconv.FormatFloat(float64(s.Occupied[i]), 'f', 3, 32),
			strconv.FormatFloat(float64(s.Elapsed[i])/float64(time.Millisecond), 'f', 3, 64),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
