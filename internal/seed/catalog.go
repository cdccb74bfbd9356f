// Package seed holds the static list of units of every floor, used to build
// the ledger the first time the service starts without a snapshot.
package seed

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"housefees/internal/core"
)

//go:embed data/*.csv
var dataFS embed.FS

// Row is one unit as listed in the catalog.
type Row struct {
	HouseNumber int
	OwnerName   string
	PhoneNumber string
	Floor       int
	Branch      int
}

// Unit converts the row into a fresh ledger record with nothing paid.
func (r Row) Unit() core.Unit {
	u := core.Unit{
		HouseNumber:  r.HouseNumber,
		OwnerName:    r.OwnerName,
		Floor:        r.Floor,
		BranchNumber: r.Branch,
	}
	if r.PhoneNumber != "" {
		u.PhoneNumber = core.StringPtr(r.PhoneNumber)
	}
	return u
}

// Catalog is the read-only seed data, grouped by floor.
type Catalog struct {
	floors map[int][]Row
}

// Embedded returns the catalog compiled into the binary.
func Embedded() (*Catalog, error) {
	sub, err := fs.Sub(dataFS, "data")
	if err != nil {
		return nil, fmt.Errorf("open embedded seed data: %w", err)
	}
	return load(sub)
}

// FromDir reads floor1.csv, floor2.csv, ... from dir. Missing floor files
// leave that floor empty.
func FromDir(dir string) (*Catalog, error) {
	return load(os.DirFS(dir))
}

// New builds a catalog from explicit rows, mostly for tests.
func New(rows ...Row) *Catalog {
	c := &Catalog{floors: make(map[int][]Row)}
	for _, r := range rows {
		c.floors[r.Floor] = append(c.floors[r.Floor], r)
	}
	return c
}

func load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{floors: make(map[int][]Row)}
	for _, floor := range core.Floors {
		name := fmt.Sprintf("floor%d.csv", floor)
		f, err := fsys.Open(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		rows, err := readRows(f, floor)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		c.floors[floor] = rows
	}
	return c, nil
}

func readRows(r io.Reader, floor int) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var out []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		house, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("house number %q: %w", rec[0], err)
		}
		branch, err := strconv.Atoi(strings.TrimSpace(rec[3]))
		if err != nil {
			return nil, fmt.Errorf("branch number %q: %w", rec[3], err)
		}
		out = append(out, Row{
			HouseNumber: house,
			OwnerName:   strings.TrimSpace(rec[1]),
			PhoneNumber: strings.TrimSpace(rec[2]),
			Floor:       floor,
			Branch:      branch,
		})
	}
}

// Rows returns every row, floors in core.Floors order followed by any other
// floor in ascending order, preserving file order within a floor.
func (c *Catalog) Rows() []Row {
	if c == nil {
		return nil
	}
	var out []Row
	seen := make(map[int]bool)
	for _, floor := range core.Floors {
		out = append(out, c.floors[floor]...)
		seen[floor] = true
	}
	var extra []int
	for floor := range c.floors {
		if !seen[floor] {
			extra = append(extra, floor)
		}
	}
	sort.Ints(extra)
	for _, floor := range extra {
		out = append(out, c.floors[floor]...)
	}
	return out
}

// Len is the number of rows across all floors.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, rows := range c.floors {
		n += len(rows)
	}
	return n
}
