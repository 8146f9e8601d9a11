package csvbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/csvbook/domain/model"
)

// Session is the interactive state of one user of a Workspace: named
// notebooks of SQL cells and uploads awaiting configuration.
type Session struct {
	mu sync.Mutex

	ws        *Workspace
	notebooks map[string]*model.Notebook
	order     []string
	current   string
	pending   map[string]*model.PendingUpload
}

// NewSession returns a session with the default notebook holding one empty cell.
func NewSession(ws *Workspace) *Session {
	s := &Session{
		ws:        ws,
		notebooks: make(map[string]*model.Notebook),
		pending:   make(map[string]*model.PendingUpload),
	}
	s.addNotebook(model.DefaultNotebookName)
	s.current = model.DefaultNotebookName
	return s
}

// Workspace returns the workspace the session runs against.
func (s *Session) Workspace() *Workspace { return s.ws }

func (s *Session) addNotebook(name string) {
	s.notebooks[name] = &model.Notebook{Name: name, Cells: []*model.Cell{{ID: 0}}}
	s.order = append(s.order, name)
}

// Notebooks returns notebook names in creation order.
func (s *Session) Notebooks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Current returns the name of the selected notebook.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Notebook returns a copy of the named notebook. The empty name selects the
// current notebook.
func (s *Session) Notebook(name string) (*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, err := s.notebook(name)
	if err != nil {
		return nil, err
	}
	return cloneNotebook(nb), nil
}

func (s *Session) notebook(name string) (*model.Notebook, error) {
	if name == "" {
		name = s.current
	}
	nb, ok := s.notebooks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotebookNotFound, name)
	}
	return nb, nil
}

func cloneNotebook(nb *model.Notebook) *model.Notebook {
	out := &model.Notebook{Name: nb.Name, Cells: make([]*model.Cell, len(nb.Cells))}
	for i, c := range nb.Cells {
		out.Cells[i] = cloneCell(c)
	}
	return out
}

func cloneCell(c *model.Cell) *model.Cell {
	cp := *c
	return &cp
}

// CreateNotebook adds an empty notebook and selects it.
func (s *Session) CreateNotebook(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyNotebookName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[name]; ok {
		return fmt.Errorf("%w: %s", ErrNotebookExists, name)
	}
	s.addNotebook(name)
	s.current = name
	return nil
}

// SelectNotebook makes name the current notebook.
func (s *Session) SelectNotebook(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotebookNotFound, name)
	}
	s.current = name
	return nil
}

// DeleteNotebook removes a notebook. The default notebook cannot be deleted.
// Deleting the current notebook selects the default one.
func (s *Session) DeleteNotebook(name string) error {
	if name == model.DefaultNotebookName {
		return ErrDefaultNotebook
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notebooks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotebookNotFound, name)
	}
	delete(s.notebooks, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.current == name {
		s.current = model.DefaultNotebookName
	}
	return nil
}

// AddCell appends a cell holding query to the current notebook.
func (s *Session) AddCell(query string) *model.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb := s.notebooks[s.current]
	cell := &model.Cell{ID: nb.NextCellID(), Query: query}
	nb.Cells = append(nb.Cells, cell)
	return cloneCell(cell)
}

// AddFinding appends the query of a common value finding to the current notebook.
func (s *Session) AddFinding(cv *CommonValues) *model.Cell {
	return s.AddCell(cv.NotebookQuery())
}

func (s *Session) cell(id int) (*model.Notebook, int, error) {
	nb := s.notebooks[s.current]
	i := nb.CellIndex(id)
	if i < 0 {
		return nil, -1, fmt.Errorf("%w: %d", ErrCellNotFound, id)
	}
	return nb, i, nil
}

// DeleteCell removes a cell of the current notebook. The last cell cannot be deleted.
func (s *Session) DeleteCell(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, i, err := s.cell(id)
	if err != nil {
		return err
	}
	if len(nb.Cells) == 1 {
		return ErrLastCell
	}
	nb.Cells = append(nb.Cells[:i], nb.Cells[i+1:]...)
	return nil
}

// SetCellQuery replaces the query text of a cell.
func (s *Session) SetCellQuery(id int, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, i, err := s.cell(id)
	if err != nil {
		return err
	}
	nb.Cells[i].Query = query
	return nil
}

// RunCell runs a cell of the current notebook and returns it with its result.
// A failing query is recorded on the cell, with its error position when the
// engine reports one, and is not returned as an error.
func (s *Session) RunCell(ctx context.Context, id int) (*model.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb, i, err := s.cell(id)
	if err != nil {
		return nil, err
	}
	cell := nb.Cells[i]
	if err := s.run(ctx, cell); err != nil {
		return nil, err
	}
	return cloneCell(cell), nil
}

// RunAll runs every non-blank cell of the current notebook in order.
func (s *Session) RunAll(ctx context.Context) ([]*model.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nb := s.notebooks[s.current]
	out := make([]*model.Cell, 0, len(nb.Cells))
	for _, cell := range nb.Cells {
		if err := s.run(ctx, cell); err != nil {
			return nil, err
		}
		out = append(out, cloneCell(cell))
	}
	return out, nil
}

func (s *Session) run(ctx context.Context, cell *model.Cell) error {
	if strings.TrimSpace(cell.Query) == "" {
		return nil
	}
	cell.LastRunQuery = cell.Query

	start := time.Now()
	result, err := s.ws.Query(ctx, cell.Query)
	var qe *QueryError
	switch {
	case errors.As(err, &qe):
		cell.Result = nil
		cell.Error = qe.CellError()
		cell.Meta = model.CellMeta{}
		return nil
	case err != nil:
		return err
	}
	cell.Result = result
	cell.Error = nil
	cell.Meta = model.CellMeta{Duration: time.Since(start), Rows: result.RowCount()}
	return nil
}
