package ws

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Arena/internal/domain"
)

func errorFrame(err error) ([]byte, error) {
	return domain.EncodeEnvelope(domain.TypeError, domain.ErrorPayload{
		Code:    domain.Code(err),
		Message: err.Error(),
	})
}

// replyError queues an error envelope for this connection only.
func (c *Conn) replyError(err error) {
	frame, encErr := errorFrame(err)
	if encErr != nil {
		log.Error().Err(encErr).Str("module", "adapters.ws").Msg("encode error envelope")
		return
	}
	_ = c.out.TrySend(frame)
}

func (c *Conn) replyPong() {
	frame, err := domain.EncodeEnvelope(domain.TypePong, nil)
	if err != nil {
		return
	}
	_ = c.out.TrySend(frame)
}
