package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/warehouse-monitor/internal/application/reconcile"
	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/sqlite"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

type recordingSink struct {
	mu        sync.Mutex
	anomalies []entity.Anomaly
}

func (s *recordingSink) Publish(_ context.Context, a entity.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, a)
	return nil
}

func (s *recordingSink) kinds() []entity.AnomalyKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.AnomalyKind
	for _, a := range s.anomalies {
		out = append(out, a.Kind)
	}
	return out
}

type recordingCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *recordingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (c *recordingCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}
func (c *recordingCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	return nil
}

type fixture struct {
	store *sqlite.Store
	sink  *recordingSink
	cache *recordingCache
	rec   *reconcile.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, sink: &recordingSink{}, cache: &recordingCache{}}
	f.rec = reconcile.NewReconciler(store.Movements(), store.Stock(), f.cache, f.sink, logger.Nop())
	return f
}

func at(hms string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05Z", "2025-02-18T"+hms+"Z")
	if err != nil {
		panic(err)
	}
	return t
}

func arrival(movementID, wh, product string, qty int64, ts time.Time) entity.DomainEvent {
	return entity.ArrivalEvent{Half: entity.MovementHalf{
		MovementID: movementID, WarehouseID: wh, ProductID: product,
		Kind: entity.EventArrival, Quantity: qty, ObservedAt: ts,
	}}
}

func departure(movementID, wh, product string, qty int64, ts time.Time) entity.DomainEvent {
	return entity.DepartureEvent{Half: entity.MovementHalf{
		MovementID: movementID, WarehouseID: wh, ProductID: product,
		Kind: entity.EventDeparture, Quantity: qty, ObservedAt: ts,
	}}
}

func (f *fixture) reconcile(t *testing.T, ev entity.DomainEvent) reconcile.Result {
	t.Helper()
	res, err := f.rec.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	return res
}

func (f *fixture) stock(t *testing.T, wh, product string) (int64, bool) {
	t.Helper()
	e, err := f.store.Stock().GetEntry(context.Background(), wh, product)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false
	}
	require.NoError(t, err)
	return e.Quantity, true
}

func (f *fixture) movement(t *testing.T, id string) *entity.Movement {
	t.Helper()
	m, err := f.store.Movements().GetMovement(context.Background(), id)
	require.NoError(t, err)
	return m
}

// ──────────────────────────────────────────────────────────────────────────────
// Escenarios
// ──────────────────────────────────────────────────────────────────────────────

// Llegada y salida en la misma bodega: completado, tránsito negativo, neto cero.
func TestReconcile_MismaBodegaNetoCero(t *testing.T) {
	f := newFixture(t)

	res := f.reconcile(t, arrival("M1", "W1", "P1", 100, at("14:34:56")))
	assert.Equal(t, entity.MovementPending, res.State)

	res = f.reconcile(t, departure("M1", "W1", "P1", 100, at("12:12:56")))
	assert.Equal(t, entity.MovementCompleted, res.State)
	assert.True(t, res.StockApplied)
	assert.True(t, res.Finalized)

	m := f.movement(t, "M1")
	assert.Equal(t, entity.MovementCompleted, m.State())
	require.NotNil(t, m.TransitDuration)
	assert.Equal(t, -(2*time.Hour + 22*time.Minute), *m.TransitDuration)
	require.NotNil(t, m.QuantityDelta)
	assert.Equal(t, int64(0), *m.QuantityDelta)

	qty, found := f.stock(t, "W1", "P1")
	assert.True(t, found)
	assert.Equal(t, int64(0), qty, "el neto del movimiento es cero")
	assert.Empty(t, f.sink.kinds())
	assert.Contains(t, f.cache.deleted, repository.StockCacheKey("W1", "P1"))
}

// Una llegada sola suma su cantidad aunque el movimiento siga pendiente.
func TestReconcile_LlegadaSolaSumaStock(t *testing.T) {
	f := newFixture(t)

	res := f.reconcile(t, arrival("M2", "W2", "P1", 50, at("10:00:00")))
	assert.Equal(t, entity.MovementPending, res.State)
	assert.False(t, res.StockApplied, "el movimiento no está conciliado")

	assert.Equal(t, entity.MovementPending, f.movement(t, "M2").State())
	qty, found := f.stock(t, "W2", "P1")
	assert.True(t, found)
	assert.Equal(t, int64(50), qty)
	assert.Contains(t, f.cache.deleted, repository.StockCacheKey("W2", "P1"))
}

// La llegada duplicada se cuenta una sola vez.
func TestReconcile_LlegadaDuplicadaSeAplicaUnaVez(t *testing.T) {
	f := newFixture(t)

	res := f.reconcile(t, arrival("M3", "W1", "P1", 100, at("09:00:00")))
	assert.Equal(t, repository.UpsertCreated, res.Upsert)
	res = f.reconcile(t, arrival("M3", "W1", "P1", 100, at("09:00:00")))
	assert.Equal(t, repository.UpsertDuplicate, res.Upsert)
	assert.Equal(t, entity.MovementPending, res.State)

	qty, _ := f.stock(t, "W1", "P1")
	assert.Equal(t, int64(100), qty, "+100 exactamente una vez")
	assert.Empty(t, f.sink.kinds())
}

// Bodegas distintas: inconsistente y el efecto de la llegada se revierte.
func TestReconcile_BodegasDistintasRevierteStock(t *testing.T) {
	f := newFixture(t)

	f.reconcile(t, arrival("M4", "W1", "P1", 100, at("08:00:00")))
	qty, _ := f.stock(t, "W1", "P1")
	require.Equal(t, int64(100), qty)

	res := f.reconcile(t, departure("M4", "W2", "P1", 100, at("09:00:00")))
	assert.Equal(t, entity.MovementInconsistent, res.State)
	assert.False(t, res.StockApplied)

	m := f.movement(t, "M4")
	assert.Equal(t, entity.MovementInconsistent, m.State())
	assert.Nil(t, m.TransitDuration, "los inconsistentes no llevan métricas")
	assert.False(t, m.StockApplied())
	assert.False(t, m.NeedsFinalization())

	qty, _ = f.stock(t, "W1", "P1")
	assert.Equal(t, int64(0), qty, "la reversión deja el neto en cero")
	_, found := f.stock(t, "W2", "P1")
	assert.False(t, found, "la salida inconsistente nunca se aplicó")
	assert.Equal(t, []entity.AnomalyKind{entity.AnomalyInconsistentMovement}, f.sink.kinds())

	// Reentregar no vuelve a publicar ni a tocar stock
	f.reconcile(t, arrival("M4", "W1", "P1", 100, at("08:00:00")))
	f.reconcile(t, departure("M4", "W2", "P1", 100, at("09:00:00")))
	assert.Len(t, f.sink.kinds(), 1)
	qty, _ = f.stock(t, "W1", "P1")
	assert.Equal(t, int64(0), qty)
	_, found = f.stock(t, "W2", "P1")
	assert.False(t, found)
}

// Mitades inconsistentes entregadas en paralelo: ninguna interleaving deja stock.
func TestReconcile_InconsistenteConcurrenteNetoCero(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		ctx := context.Background()
		events := []entity.DomainEvent{
			arrival("M5", "W1", "P1", 30, at("08:00:00")),
			departure("M5", "W2", "P1", 30, at("09:00:00")),
			arrival("M5", "W1", "P1", 30, at("08:00:00")),
			departure("M5", "W2", "P1", 30, at("09:00:00")),
		}
		var wg sync.WaitGroup
		for _, ev := range events {
			wg.Add(1)
			go func(ev entity.DomainEvent) {
				defer wg.Done()
				_, err := f.rec.Reconcile(ctx, ev)
				assert.NoError(t, err)
			}(ev)
		}
		wg.Wait()

		q1, _ := f.stock(t, "W1", "P1")
		q2, _ := f.stock(t, "W2", "P1")
		assert.Equal(t, int64(0), q1)
		assert.Equal(t, int64(0), q2)
		assert.Equal(t, entity.MovementInconsistent, f.movement(t, "M5").State())
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Propiedades
// ──────────────────────────────────────────────────────────────────────────────

func TestReconcile_IndependienteDelOrden(t *testing.T) {
	a, b := newFixture(t), newFixture(t)

	a.reconcile(t, arrival("M1", "W1", "P1", 10, at("10:00:00")))
	a.reconcile(t, departure("M1", "W1", "P1", 7, at("11:00:00")))

	b.reconcile(t, departure("M1", "W1", "P1", 7, at("11:00:00")))
	b.reconcile(t, arrival("M1", "W1", "P1", 10, at("10:00:00")))

	ma, mb := a.movement(t, "M1"), b.movement(t, "M1")
	assert.Equal(t, ma.State(), mb.State())
	assert.Equal(t, *ma.TransitDuration, *mb.TransitDuration)
	assert.Equal(t, *ma.QuantityDelta, *mb.QuantityDelta)

	qa, _ := a.stock(t, "W1", "P1")
	qb, _ := b.stock(t, "W1", "P1")
	assert.Equal(t, int64(3), qa)
	assert.Equal(t, qa, qb)

	// Salida primero: stock transitoriamente negativo
	assert.Contains(t, b.sink.kinds(), entity.AnomalyNegativeStock)
	assert.NotContains(t, a.sink.kinds(), entity.AnomalyNegativeStock)
}

// Conservación: el stock es la suma de los efectos de todas las mitades ingeridas.
func TestReconcile_ConservacionConEntregasConcurrentes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var events []entity.DomainEvent
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("M%02d", i)
		events = append(events,
			arrival(id, "W1", "P1", 5, at("10:00:00")),
			departure(id, "W1", "P1", 2, at("10:05:00")),
		)
	}
	// Pendiente: su llegada también cuenta
	events = append(events, arrival("MX", "W1", "P1", 1000, at("10:00:00")))

	var wg sync.WaitGroup
	for round := 0; round < 2; round++ {
		for _, ev := range events {
			wg.Add(1)
			go func(ev entity.DomainEvent) {
				defer wg.Done()
				_, err := f.rec.Reconcile(ctx, ev)
				assert.NoError(t, err)
			}(ev)
		}
	}
	wg.Wait()

	qty, _ := f.stock(t, "W1", "P1")
	assert.Equal(t, int64(20*3+1000), qty)
	for i := 0; i < 20; i++ {
		m := f.movement(t, fmt.Sprintf("M%02d", i))
		assert.True(t, m.StockApplied())
	}
	assert.Equal(t, entity.MovementPending, f.movement(t, "MX").State())
}

func TestReconcile_StockNegativoPublicaAnomalia(t *testing.T) {
	f := newFixture(t)

	f.reconcile(t, arrival("M1", "W1", "P1", 0, at("10:00:00")))
	f.reconcile(t, departure("M1", "W1", "P1", 4, at("10:10:00")))

	qty, _ := f.stock(t, "W1", "P1")
	assert.Equal(t, int64(-4), qty)
	assert.ElementsMatch(t, []entity.AnomalyKind{entity.AnomalyQuantityMismatch, entity.AnomalyNegativeStock}, f.sink.kinds())
}

func TestReconcile_CorreccionGanaUltimaEscritura(t *testing.T) {
	f := newFixture(t)

	f.reconcile(t, arrival("M1", "W1", "P1", 100, at("10:00:00")))
	res := f.reconcile(t, arrival("M1", "W1", "P1", 80, at("10:00:00")))
	assert.Equal(t, repository.UpsertCorrected, res.Upsert)
	assert.Equal(t, []entity.AnomalyKind{entity.AnomalyHalfCorrected}, f.sink.kinds())
	qty, _ := f.stock(t, "W1", "P1")
	assert.Equal(t, int64(80), qty, "la corrección mueve solo la diferencia")

	f.reconcile(t, departure("M1", "W1", "P1", 80, at("10:30:00")))
	qty, _ = f.stock(t, "W1", "P1")
	assert.Equal(t, int64(0), qty, "se usa el valor corregido")

	// Corrección tras completar: se registra pero el stock no se recalcula
	res = f.reconcile(t, arrival("M1", "W1", "P1", 90, at("10:00:00")))
	assert.Equal(t, repository.UpsertCorrected, res.Upsert)
	assert.Equal(t, entity.MovementCompleted, res.State)
	qty, _ = f.stock(t, "W1", "P1")
	assert.Equal(t, int64(0), qty)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reanudación tras una caída a mitad de la reconciliación
// ──────────────────────────────────────────────────────────────────────────────

type flakyLedger struct {
	repository.MovementLedger
	failMark int
}

func (l *flakyLedger) MarkStockApplied(ctx context.Context, movementID string) error {
	if l.failMark > 0 {
		l.failMark--
		return domain.Unavailable("mark stock applied", errors.New("conexión perdida"))
	}
	return l.MovementLedger.MarkStockApplied(ctx, movementID)
}

func TestReconcile_ReanudaTrasFalloDespuesDelStock(t *testing.T) {
	f := newFixture(t)
	ledger := &flakyLedger{MovementLedger: f.store.Movements(), failMark: 1}
	rec := reconcile.NewReconciler(ledger, f.store.Stock(), f.cache, f.sink, logger.Nop())
	ctx := context.Background()

	_, err := rec.Reconcile(ctx, arrival("M1", "W1", "P1", 10, at("10:00:00")))
	require.NoError(t, err)
	_, err = rec.Reconcile(ctx, departure("M1", "W1", "P1", 4, at("10:10:00")))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	m := f.movement(t, "M1")
	assert.True(t, m.NeedsFinalization(), "token otorgado pero stock sin marcar")

	// El llamador reintenta con el mismo evento: duplicado que reanuda la finalización
	res, err := rec.Reconcile(ctx, departure("M1", "W1", "P1", 4, at("10:10:00")))
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertDuplicate, res.Upsert)
	assert.True(t, res.StockApplied)

	qty, _ := f.stock(t, "W1", "P1")
	assert.Equal(t, int64(6), qty, "ninguna mitad se aplica dos veces")
	assert.Equal(t, []entity.AnomalyKind{entity.AnomalyQuantityMismatch}, f.sink.kinds(),
		"el resultado ya persistido no se vuelve a publicar")
}
