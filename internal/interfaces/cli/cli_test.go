package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/sqlite"
	"github.com/jhoicas/warehouse-monitor/internal/interfaces/cli"
)

const events = `{"id":"e1","time":1,"data":{"movement_id":"M1","warehouse_id":"W1","product_id":"P1","event":"arrival","quantity":10,"timestamp":"2025-02-18T14:34:56Z"}}

{"id":"e2","time":2,"data":{"movement_id":"M1","warehouse_id":"W1","product_id":"P1","event":"departure","quantity":4,"timestamp":"2025-02-18T14:34:58Z"}}
{"data":{"event":"teleport"}}
{"id":"e1","time":1,"data":{"movement_id":"M1","warehouse_id":"W1","product_id":"P1","event":"arrival","quantity":10,"timestamp":"2025-02-18T14:34:56Z"}}
`

// sqliteEnv apunta la configuración a una base SQLite temporal sin Redis ni RabbitMQ.
func sqliteEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "")
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngest_DesdeArchivo(t *testing.T) {
	dbPath := sqliteEnv(t)
	file := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(events), 0o600))

	out, err := run(t, "", "ingest", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "4 mensajes procesados", "la línea vacía se ignora y el mal formado cuenta como procesado")

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	e, err := store.Stock().GetEntry(context.Background(), "W1", "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), e.Quantity, "la llegada repetida no se aplica dos veces")

	m, err := store.Movements().GetMovement(context.Background(), "M1")
	require.NoError(t, err)
	assert.True(t, m.StockApplied())
}

func TestIngest_DesdeStdin(t *testing.T) {
	dbPath := sqliteEnv(t)

	out, err := run(t, events, "ingest", "--file", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "4 mensajes procesados")

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.Movements().GetMovement(context.Background(), "M2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngest_ArchivoInexistente(t *testing.T) {
	sqliteEnv(t)
	_, err := run(t, "", "ingest", "--file", filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIngest_RequiereFile(t *testing.T) {
	sqliteEnv(t)
	_, err := run(t, "", "ingest")
	assert.Error(t, err)
}

func TestMigrate_SQLite(t *testing.T) {
	dbPath := sqliteEnv(t)
	_, err := run(t, "", "migrate")
	require.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestRoot_DriverInvalido(t *testing.T) {
	sqliteEnv(t)
	t.Setenv("DB_DRIVER", "oracle")
	_, err := run(t, "", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DRIVER")
}
