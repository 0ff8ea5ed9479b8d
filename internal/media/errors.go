package media

import "errors"

var (
	ErrUnavailable         = errors.New("voice is unavailable: no media workers")
	ErrRoomFull            = errors.New("voice channel is full")
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrTransportNotFound   = errors.New("transport not found")
	ErrNoSendTransport     = errors.New("no send transport")
	ErrNoRecvTransport     = errors.New("no recv transport")
	ErrProducerNotFound    = errors.New("producer not found")
	ErrCannotConsume       = errors.New("router cannot consume producer")
)
