package chaindexing

import "github.com/ethereum/go-ethereum/metrics"

var (
	ingestTickTimer       = metrics.NewRegisteredTimer("chaindexing/ingest/tick", nil)
	eventsPersistedMeter  = metrics.NewRegisteredMeter("chaindexing/ingest/events_persisted", nil)
	reorgsDetectedCounter = metrics.NewRegisteredCounter("chaindexing/reorg/detected", nil)
	reorgedEventsRemoved  = metrics.NewRegisteredMeter("chaindexing/reorg/events_removed", nil)
	handleTickTimer       = metrics.NewRegisteredTimer("chaindexing/handle/tick", nil)
	eventsHandledMeter    = metrics.NewRegisteredMeter("chaindexing/handle/events_handled", nil)
)
