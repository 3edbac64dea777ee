package archive

import (
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/netmon/internal/errors"
	"github.com/xtxerr/netmon/internal/storage/types"
)

// ReadWindows reads the archived windows of a network, target and date.
// A missing archive yields no windows and no error.
func (a *Archive) ReadWindows(network, target string, date time.Time) ([]types.MetricsWindow, error) {
	windows, err := ReadFile(a.Path(network, target, date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return windows, err
}

// ReadFile reads every window from a Parquet file.
func ReadFile(path string) ([]types.MetricsWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[WindowRow](f)
	defer reader.Close()

	rows := make([]WindowRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.ErrStorageRead, err.Error())
	}

	windows := make([]types.MetricsWindow, n)
	for i := 0; i < n; i++ {
		windows[i] = RowToWindow(&rows[i])
	}

	return windows, nil
}
