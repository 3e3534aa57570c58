package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/utils"
)

// ResyncMonitor is the reconciliation safety net behind the push channel.
// Events are the primary mechanism; this only republishes authoritative
// snapshots for tables that currently have observers, on a long interval,
// to catch anything a disconnect or dropped event missed.
type ResyncMonitor struct {
	Sessions *SessionService
	Hub      *realtime.Hub
	Interval time.Duration

	stopChan chan struct{}
}

func NewResyncMonitor(db *gorm.DB, hub *realtime.Hub) *ResyncMonitor {
	return &ResyncMonitor{
		Sessions: NewSessionService(db, hub),
		Hub:      hub,
		Interval: 3 * time.Minute,
		stopChan: make(chan struct{}),
	}
}

func (m *ResyncMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.resync()
			case <-m.stopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Println("Snapshot resync monitor started")
}

func (m *ResyncMonitor) Stop() {
	close(m.stopChan)
}

func (m *ResyncMonitor) resync() {
	for _, tableID := range m.Hub.SubscribedTables() {
		snapshot, err := m.Sessions.Snapshot(tableID)
		if err != nil {
			utils.ErrorLogger.Printf("Resync failed for table %d: %v", tableID, err)
			continue
		}
		m.Hub.Publish(tableID, realtime.Event{
			Event: realtime.EventTableResync,
			Data:  snapshot,
		})
	}
}
