package learning

import (
	"fmt"
	"time"

	"github.com/c360studio/semloop/storage"
)

// Envelope identification written by Export and required by Import.
const (
	FormatVersion = "1.0"
	FormatName    = "semloop-patterns"
)

// Envelope is the on-disk pattern export.
type Envelope struct {
	ProjectName        string                  `json:"project_name"`
	ExportTime         time.Time               `json:"export_time"`
	LearnedPatterns    map[string]PatternStats `json:"learned_patterns"`
	TotalIterations    int                     `json:"total_iterations"`
	OverallSuccessRate float64                 `json:"overall_success_rate"`
	Metadata           map[string]string       `json:"metadata"`
}

// Export writes the phase map to path. meta entries are added to the envelope metadata;
// version and format are always set.
func (l *Learner) Export(path, projectName string, meta map[string]string) error {
	attempts, successes := l.Totals()
	env := Envelope{
		ProjectName:     projectName,
		ExportTime:      time.Now().UTC(),
		LearnedPatterns: l.Snapshot(),
		TotalIterations: attempts,
		Metadata:        make(map[string]string, len(meta)+2),
	}
	if attempts > 0 {
		env.OverallSuccessRate = float64(successes) / float64(attempts)
	}
	for k, v := range meta {
		env.Metadata[k] = v
	}
	env.Metadata["version"] = FormatVersion
	env.Metadata["format"] = FormatName

	if err := storage.WriteJSONFile(path, env); err != nil {
		return fmt.Errorf("export patterns: %w", err)
	}
	l.logger.Info("Exported learned patterns", "path", path, "phases", len(env.LearnedPatterns))
	return nil
}

// ReadEnvelope reads and checks a pattern export without applying it.
func ReadEnvelope(path string) (*Envelope, error) {
	var env Envelope
	if err := storage.ReadJSONFile(path, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if env.Metadata["version"] != FormatVersion || env.Metadata["format"] != FormatName {
		return nil, fmt.Errorf("%w: version %q format %q", ErrFormat,
			env.Metadata["version"], env.Metadata["format"])
	}
	for phase, p := range env.LearnedPatterns {
		if err := p.validate(phase); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	return &env, nil
}

// Import applies a pattern export. With merge the incoming phases are combined with the
// local ones; without it the local map is replaced. On any failure Import returns false
// and leaves the learner untouched.
func (l *Learner) Import(path string, merge bool) (bool, error) {
	env, err := ReadEnvelope(path)
	if err != nil {
		l.logger.Warn("Pattern import rejected", "path", path, "error", err)
		return false, err
	}
	if merge {
		l.MergeAll(env.LearnedPatterns)
	} else {
		l.Replace(env.LearnedPatterns)
	}
	l.logger.Info("Imported learned patterns",
		"path", path, "phases", len(env.LearnedPatterns), "merge", merge)
	return true, nil
}
