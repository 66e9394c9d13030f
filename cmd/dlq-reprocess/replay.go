package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

// Причины пропуска записи.
const (
	skipUnknownFormat = "unknown_format"
	skipMalformed     = "malformed"
	skipFiltered      = "filtered"
)

type replaySink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

func dialSink(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "fulfillment-dlq-reprocess"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create replay producer: %w", err)
	}
	return producer, nil
}

// replayer решает судьбу одной записи DLQ. Без sink работает как dry-run.
type replayer struct {
	router kafka.TopicRouter
	source string
	sink   replaySink
	now    func() time.Time
	logger *log.Entry
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, sum *summary) error {
	sum.Scanned++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := kafka.DecodeDeadLetter(msg.Value, r.router, r.now())
	switch {
	case errors.Is(err, kafka.ErrNotReplayable):
		sum.skip(skipUnknownFormat)
		entry.Warn("dlq record has unknown format")
		return nil
	case err != nil:
		sum.skip(skipMalformed)
		entry.WithError(err).Warn("dlq record is malformed")
		return nil
	}
	if r.source != sourceAll && r.source != replay.Source {
		sum.skip(skipFiltered)
		return nil
	}

	entry = entry.WithFields(log.Fields{"source": replay.Source, "topic": replay.Topic, "key": replay.Key})
	if r.sink == nil {
		entry.Info("would replay dlq record")
		sum.replay(replay.Source, replay.Topic)
		return nil
	}

	_, _, err = r.sink.SendMessage(&sarama.ProducerMessage{
		Topic:     replay.Topic,
		Key:       sarama.StringEncoder(replay.Key),
		Value:     sarama.ByteEncoder(replay.Value),
		Timestamp: r.now(),
	})
	if err != nil {
		return fmt.Errorf("replay offset %d of partition %d to %s: %w", msg.Offset, msg.Partition, replay.Topic, err)
	}
	entry.Info("dlq record replayed")
	sum.replay(replay.Source, replay.Topic)
	return nil
}

type routeKey struct {
	source string
	topic  string
}

// summary — итог прохода по DLQ.
type summary struct {
	Scanned  int
	Replayed map[routeKey]int
	Skipped  map[string]int
}

func newSummary() summary {
	return summary{Replayed: make(map[routeKey]int), Skipped: make(map[string]int)}
}

func (s *summary) replay(source, topic string) { s.Replayed[routeKey{source, topic}]++ }

func (s *summary) skip(reason string) { s.Skipped[reason]++ }

func (s summary) replayedTotal() int {
	total := 0
	for _, n := range s.Replayed {
		total += n
	}
	return total
}

func (s summary) write(w io.Writer, executed bool) {
	verb := "would replay"
	if executed {
		verb = "replayed"
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scanned\t%d\n", s.Scanned)
	fmt.Fprintf(tw, "%s\t%d\n", verb, s.replayedTotal())

	routes := make([]routeKey, 0, len(s.Replayed))
	for k := range s.Replayed {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].source != routes[j].source {
			return routes[i].source < routes[j].source
		}
		return routes[i].topic < routes[j].topic
	})
	for _, k := range routes {
		fmt.Fprintf(tw, "  %s -> %s\t%d\n", k.source, k.topic, s.Replayed[k])
	}

	reasons := make([]string, 0, len(s.Skipped))
	for k := range s.Skipped {
		reasons = append(reasons, k)
	}
	sort.Strings(reasons)
	for _, k := range reasons {
		fmt.Fprintf(tw, "skipped %s\t%d\n", k, s.Skipped[k])
	}
	_ = tw.Flush()
}
