package serialframe

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/mcdev12/impact/go/internal/gameconfig"
)

// Open opens the configured serial device. The returned port is the only
// handle to the device and belongs to whoever decodes from it.
func Open(cfg gameconfig.SerialConfig) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		if ports, listErr := serial.GetPortsList(); listErr == nil {
			log.Warn().Strs("available_ports", ports).Str("port", cfg.Port).Msg("serial port not opened")
		}
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	log.Info().
		Str("port", cfg.Port).
		Int("baud_rate", cfg.BaudRate).
		Str("format", cfg.Format).
		Msg("serial port opened")

	return port, nil
}
