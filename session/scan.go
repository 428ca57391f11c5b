package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Bus timeouts. Scans use a short timeout so that empty IDs are skipped
// quickly; persistent connections allow slower replies.
const (
	ScanTimeout       = 50 * time.Millisecond
	ConnectionTimeout = 500 * time.Millisecond
)

// ScanRequest describes a sweep of an inclusive ID range.
type ScanRequest struct {
	Port         string   `json:"port"`
	Protocol     Protocol `json:"protocol"`
	Baudrate     int      `json:"baudrate"`
	IDStart      uint8    `json:"id_start"`
	IDEnd        uint8    `json:"id_end"`
	ConnectAfter bool     `json:"connect"`
}

// validate checks the protocol and ID range without touching the port.
func (r ScanRequest) validate() (Protocol, error) {
	protocol, err := ParseProtocol(string(r.Protocol))
	if err != nil {
		return "", err
	}
	if r.IDStart > r.IDEnd {
		return "", ErrInvalidRange
	}
	return protocol, nil
}

// Scan opens a dedicated bus and pings every ID in the request's range,
// streaming events to sink. The stream always ends with ScanFinished; it is
// marked cancelled when cancel is set or ctx is done before the sweep ends.
// Scan returns an error only when the bus cannot be opened, in which case
// nothing is emitted.
func Scan(ctx context.Context, c Connector, req ScanRequest, cancel *CancelFlag, sink Sink[ScanEvent], logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	protocol, err := req.validate()
	if err != nil {
		return err
	}

	b, err := Connect(c, req.Port, protocol, req.Baudrate, ScanTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("Failed to close scan bus", zap.Error(err))
		}
	}()

	emit := func(ev ScanEvent) {
		if sink == nil {
			return
		}
		if err := sink.Send(ev); err != nil {
			logger.Debug("Dropped scan event", zap.String("event", ev.EventName()), zap.Error(err))
		}
	}

	total := uint16(req.IDEnd) - uint16(req.IDStart) + 1
	logger.Info("Scan started",
		zap.Uint8("id_start", req.IDStart),
		zap.Uint8("id_end", req.IDEnd),
		zap.Uint16("total", total),
	)

	found := 0
	for id := int(req.IDStart); id <= int(req.IDEnd); id++ {
		if cancel.Cancelled() || ctx.Err() != nil {
			logger.Info("Scan cancelled", zap.Int("at_id", id), zap.Int("found", found))
			emit(ScanFinished{Cancelled: true})
			return nil
		}

		emit(Progress{Current: uint8(id), Total: total})

		servos, err := b.Ping(ctx, uint8(id))
		if err != nil {
			continue
		}
		for _, info := range servos {
			found++
			logger.Debug("Servo found", zap.Uint8("id", info.ID), zap.Uint16("model_number", info.ModelNumber))
			emit(Found{ServoInfo: info})
		}
	}

	logger.Info("Scan finished", zap.Int("found", found))
	emit(ScanFinished{Cancelled: false})
	return nil
}
