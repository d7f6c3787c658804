// Package flatfile loads and saves the registry as two positionally aligned text databases:
// one of "username/password" tokens and one of serialized portfolios, "-" marking an empty one.
package flatfile

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tradeserver/internal/domain"
)

const (
	DefaultUserDatabase      = "USER_DATABASE.txt"
	DefaultPortfolioDatabase = "PORTFOLIO_DATABASE.txt"
	checkpointFile           = "CHECKPOINT"

	// CommitMarker exists while a staged save is being moved into place.
	CommitMarker = "SAVE_COMMIT"
	// TempSuffix marks a staged file that is not yet part of the databases.
	TempSuffix = ".tmp"

	// EmptyPortfolio stands for a portfolio without holdings.
	EmptyPortfolio = "-"
)

// Store reads and writes the flat-file databases inside one directory.
type Store struct {
	dir            string
	usersPath      string
	portfoliosPath string
	checkpointPath string
	commitPath     string
}

// NewStore creates dir if needed and completes or discards a save that was interrupted.
// Empty file names fall back to the defaults.
func NewStore(dir, userDatabase, portfolioDatabase string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create database dir")
	}
	if userDatabase == "" {
		userDatabase = DefaultUserDatabase
	}
	if portfolioDatabase == "" {
		portfolioDatabase = DefaultPortfolioDatabase
	}

	s := &Store{
		dir:            dir,
		usersPath:      filepath.Join(dir, userDatabase),
		portfoliosPath: filepath.Join(dir, portfolioDatabase),
		checkpointPath: filepath.Join(dir, checkpointFile),
		commitPath:     filepath.Join(dir, CommitMarker),
	}
	if err := s.recover(); err != nil {
		return nil, errors.Wrap(err, "recover interrupted save")
	}

	return s, nil
}

// Load reads both databases. Missing files are treated as empty.
func (s *Store) Load() ([]domain.User, []*domain.Portfolio, error) {
	userTokens, err := readTokens(s.usersPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read user database")
	}
	portfolioTokens, err := readTokens(s.portfoliosPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read portfolio database")
	}
	if len(userTokens) != len(portfolioTokens) {
		return nil, nil, errors.Errorf("user database has %d entries, portfolio database has %d",
			len(userTokens), len(portfolioTokens))
	}

	users := make([]domain.User, 0, len(userTokens))
	for i, token := range userTokens {
		u, err := domain.ParseLogin(token)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "user database entry %d", i+1)
		}
		users = append(users, u)
	}

	portfolios := make([]*domain.Portfolio, 0, len(portfolioTokens))
	for i, token := range portfolioTokens {
		if token == EmptyPortfolio {
			token = ""
		}
		p, err := domain.ParsePortfolio(token)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "portfolio database entry %d", i+1)
		}
		portfolios = append(portfolios, p)
	}

	return users, portfolios, nil
}

// Save writes both databases and the journal checkpoint they cover as one commit:
// after a crash, the next NewStore leaves either all three files replaced or none.
func (s *Store) Save(users []domain.User, portfolios []*domain.Portfolio, checkpoint uint64) error {
	if len(users) != len(portfolios) {
		return errors.Errorf("save: %d users but %d portfolios", len(users), len(portfolios))
	}

	var ub, pb bytes.Buffer
	for i, u := range users {
		ub.WriteString(u.LoginKey())
		ub.WriteByte('\n')

		record := portfolios[i].Serialize()
		if record == "" {
			record = EmptyPortfolio
		}
		pb.WriteString(record)
		pb.WriteByte('\n')
	}

	staged := map[string][]byte{
		s.usersPath:      ub.Bytes(),
		s.portfoliosPath: pb.Bytes(),
		s.checkpointPath: []byte(strconv.FormatUint(checkpoint, 10) + "\n"),
	}
	if err := s.stage(staged); err != nil {
		return errors.Wrap(err, "stage databases")
	}
	if err := s.markCommitted(); err != nil {
		return errors.Wrap(err, "commit databases")
	}

	return s.finishCommit()
}

// stage writes every file next to its target. Nothing is visible to Load yet.
func (s *Store) stage(files map[string][]byte) error {
	for path, payload := range files {
		if err := writeSynced(path+TempSuffix, payload); err != nil {
			return err
		}
	}
	return syncDir(s.dir)
}

// markCommitted is the commit point: once the marker exists the staged files win.
func (s *Store) markCommitted() error {
	if err := writeSynced(s.commitPath, nil); err != nil {
		return err
	}
	return syncDir(s.dir)
}

// finishCommit moves staged files into place. It is safe to run again after a crash.
func (s *Store) finishCommit() error {
	for _, path := range s.targets() {
		if err := os.Rename(path+TempSuffix, path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "replace %s", filepath.Base(path))
		}
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}
	if err := os.Remove(s.commitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove commit marker")
	}
	return syncDir(s.dir)
}

func (s *Store) recover() error {
	_, err := os.Stat(s.commitPath)
	switch {
	case err == nil:
		return s.finishCommit()
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	// no commit point: staged files belong to a save that never happened
	for _, path := range s.targets() {
		if err := os.Remove(path + TempSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *Store) targets() []string {
	return []string{s.usersPath, s.portfoliosPath, s.checkpointPath}
}

// Checkpoint returns the journal index covered by the last Save, 0 if none.
func (s *Store) Checkpoint() (uint64, error) {
	payload, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read checkpoint")
	}

	idx, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "decode checkpoint")
	}
	return idx, nil
}

// readTokens splits a database file on whitespace.
func readTokens(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		tokens = append(tokens, sc.Text())
	}
	return tokens, sc.Err()
}

func writeSynced(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	return errors.Wrap(d.Sync(), "sync database dir")
}
