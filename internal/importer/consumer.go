package importer

import (
	"context"

	pkgkafka "github.com/jeongwoohan/grantcat/pkg/kafka"
	"github.com/jeongwoohan/grantcat/pkg/logger"
)

// BatchHandler returns a Kafka MessageHandler that decodes and applies
// import batches. Decode failures are logged and dropped; apply failures
// propagate so the message is not committed and will be retried.
func BatchHandler(p *Pipeline) pkgkafka.MessageHandler {
	log := logger.WithComponent("importer")
	return func(ctx context.Context, key, value []byte) error {
		batch, err := pkgkafka.DecodeJSON[Batch](value)
		if err != nil || batch.Records == nil {
			// Older crawler builds publish a bare record array instead
			// of the envelope.
			if batch, err = DecodeBatch(value); err != nil {
				log.Error("dropping undecodable batch", "key", string(key), "error", err)
				return nil
			}
		}
		res, err := p.Apply(ctx, batch)
		if err != nil {
			return err
		}
		log.Info("kafka batch applied",
			"key", string(key),
			"created", res.Created,
			"updated", res.Updated,
			"skipped", res.Skipped,
		)
		return nil
	}
}
