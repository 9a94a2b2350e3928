package badger

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
)

const gcInterval = 10 * time.Minute

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.JobStorage
	logger arbor.ILogger
	stopGC chan struct{}
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    NewJobStorage(db, logger),
		logger: logger,
		stopGC: make(chan struct{}),
	}

	common.SafeGo(logger, "badger.gc", manager.gcLoop)

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// gcLoop periodically reclaims value-log space freed by the expiry sweep.
func (m *Manager) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.db.RunValueLogGC(); err != nil {
				m.logger.Warn().Err(err).Msg("Badger value log GC failed")
			}
		case <-m.stopGC:
			return
		}
	}
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	close(m.stopGC)
	return m.db.Close()
}
