package server

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// timeNow is swapped out in tests
var timeNow = time.Now

// handleSystemStatus reports process uptime, host load and database health
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := s.getSystemStats()

	dbStatus := "ok"
	if s.db != nil {
		if err := s.db.QuickCheck(r.Context()); err != nil {
			dbStatus = "unreachable"
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startupTime).Seconds()),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPercent,
		"database":       dbStatus,
	})
}

// getSystemStats samples CPU and RAM usage. A short 100ms CPU window keeps
// the endpoint responsive for polling clients.
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
