package drivesim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture describes an initial account state in YAML:
//
//	cookie: "__puus=demo"
//	dirs:
//	  - /Media/Incoming
//	files:
//	  - path: /Media/Incoming/readme.txt
//	archives:
//	  - path: /Media/Incoming/movie.zip
//	    entries: [movie.mkv, movie.srt]
//	    pending_polls: 2
type Fixture struct {
	Cookie   string           `yaml:"cookie"`
	Dirs     []string         `yaml:"dirs"`
	Files    []FixtureFile    `yaml:"files"`
	Archives []FixtureArchive `yaml:"archives"`
}

type FixtureFile struct {
	Path string `yaml:"path"`
	Size int64  `yaml:"size"`
}

type FixtureArchive struct {
	Path         string   `yaml:"path"`
	Entries      []string `yaml:"entries"`
	PendingPolls int      `yaml:"pending_polls"`
	FailReason   string   `yaml:"fail_reason"`
	OmitSavedFid bool     `yaml:"omit_saved_fid"`
}

func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &fx, nil
}

// Apply seeds the store with everything the fixture describes.
func (fx *Fixture) Apply(store *Store) error {
	for _, dir := range fx.Dirs {
		if _, err := store.SeedDir(dir); err != nil {
			return err
		}
	}
	for _, file := range fx.Files {
		size := file.Size
		if size == 0 {
			size = 1 << 20
		}
		if err := store.SeedFile(file.Path, size); err != nil {
			return err
		}
	}
	for _, archive := range fx.Archives {
		m := Manifest{
			Entries:      archive.Entries,
			PendingPolls: archive.PendingPolls,
			FailReason:   archive.FailReason,
			OmitSavedFid: archive.OmitSavedFid,
		}
		if err := store.SeedArchive(archive.Path, m); err != nil {
			return err
		}
	}
	return nil
}
