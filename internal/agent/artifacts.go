package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// artifactStore dumps the run state to disk after every step for
// offline inspection. A store with an empty directory is disabled; all
// write failures are logged and swallowed so debugging output can never
// break a run.
type artifactStore struct {
	dir    string
	logger *zap.Logger
}

func newArtifactStore(baseDir string, logger *zap.Logger) *artifactStore {
	if baseDir == "" {
		return &artifactStore{logger: logger}
	}
	dir := filepath.Join(baseDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create artifact directory", zap.String("dir", dir), zap.Error(err))
		return &artifactStore{logger: logger}
	}
	logger.Info("storing run artifacts", zap.String("dir", dir))
	return &artifactStore{dir: dir, logger: logger}
}

func (s *artifactStore) store(st *runState) {
	if s.dir == "" {
		return
	}

	schemaJSON, _ := json.MarshalIndent(st.lastSchema, "", "  ")
	s.write(fmt.Sprintf("prompt-%d.txt", st.totalStep),
		[]byte(fmt.Sprintf("%s\n\nSchema:\n%s\n", st.lastSystem, schemaJSON)))

	s.writeJSON("context.json", st.allContext)
	s.writeJSON("queries.json", st.allKeywords)
	s.writeJSON("questions.json", st.allQuestions)
	s.writeJSON("knowledge.json", st.knowledge)
	s.writeJSON("urls.json", st.weighted)
	s.writeJSON("messages.json", st.lastMsgs)
}

func (s *artifactStore) writeJSON(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Warn("failed to encode artifact", zap.String("file", name), zap.Error(err))
		return
	}
	s.write(name, data)
}

func (s *artifactStore) write(name string, data []byte) {
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		s.logger.Warn("failed to write artifact", zap.String("file", name), zap.Error(err))
	}
}
