package pgsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zerosync/zero/internal/platform/apperr"
	"github.com/zerosync/zero/internal/platform/retry"
	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/watermark"
)

const outputPlugin = "pgoutput"

// ChangeSource implements spec.md §4.1: it owns the replication
// connection, the publication/slot lifecycle, and the translation from
// pgoutput's wire messages to changestream.Message.
type ChangeSource struct {
	cfg  Config
	pool *pgxpool.Pool
	log  *slog.Logger

	state    stateBox
	slotName string

	relations map[uint32]pglogrepl.RelationMessage
}

// New builds a ChangeSource bound to pool, not yet initialized.
func New(cfg Config, pool *pgxpool.Pool, log *slog.Logger) *ChangeSource {
	return &ChangeSource{
		cfg:       cfg,
		pool:      pool,
		log:       log,
		slotName:  fmt.Sprintf("%s_slot", cfg.ShardSchema()),
		relations: make(map[uint32]pglogrepl.RelationMessage),
	}
}

// Initialize performs the idempotent shard setup spec.md §4.1 requires:
// internal schema, bookkeeping tables, and (best-effort) DDL event
// triggers. It does not create a metadata publication; the configured
// publications are only validated. If triggers cannot be created because
// the connecting role is not superuser, ddlDetection is disabled and a
// warning is logged rather than failing startup.
func (s *ChangeSource) Initialize(ctx context.Context) (ddlDetection bool, err error) {
	schema := s.cfg.ShardSchema()
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.clients (
			client_group_id text NOT NULL,
			client_id text NOT NULL,
			last_mutation_id bigint NOT NULL DEFAULT 0,
			PRIMARY KEY (client_group_id, client_id)
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.mutations (
			client_group_id text NOT NULL,
			client_id text NOT NULL,
			mutation_id bigint NOT NULL,
			result jsonb,
			PRIMARY KEY (client_group_id, client_id, mutation_id)
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.shard_config (
			key text PRIMARY KEY,
			value jsonb NOT NULL
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.replicas (
			slot_name text PRIMARY KEY,
			version bigint NOT NULL,
			initial_schema jsonb,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("pgsource: shard setup: %w", err)
		}
	}

	if err := ValidatePublications(ctx, s.pool, s.cfg.Publications); err != nil {
		return false, err
	}

	if err := s.tryCreateDDLTriggers(ctx); err != nil {
		s.log.Warn("could not install DDL event triggers, falling back to drift detection", slog.Any("error", err))
		return false, nil
	}
	return true, nil
}

func (s *ChangeSource) tryCreateDDLTriggers(ctx context.Context) error {
	schema := s.cfg.ShardSchema()
	stmt := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s.notify_ddl() RETURNS event_trigger AS $$
		BEGIN
			PERFORM pg_logical_emit_message(true, '%s.ddl', tg_tag);
		END;
		$$ LANGUAGE plpgsql;`, schema, schema)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return err
	}
	trigger := fmt.Sprintf(`
		DO $$ BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_event_trigger WHERE evtname = '%s_ddl_trigger') THEN
				CREATE EVENT TRIGGER %s_ddl_trigger ON ddl_command_end EXECUTE FUNCTION %s.notify_ddl();
			END IF;
		END $$;`, schema, schema, schema)
	_, err := s.pool.Exec(ctx, trigger)
	return err
}

// StartStream begins (or resumes) logical replication strictly after
// fromWatermark, delivering decoded messages on the returned channel and
// accepting `(watermark)` acks on ackCh to advance the slot's confirmed
// flush. It first runs CheckAutoReset. Connecting and IDENTIFY_SYSTEM are
// retried with the slot-handoff backoff policy; START_REPLICATION is not
// retried, so a PG_OBJECT_IN_USE from it (a prior slot holder still
// releasing) fails the call.
func (s *ChangeSource) StartStream(ctx context.Context, fromWatermark watermark.Watermark) (<-chan changestream.Message, chan<- watermark.Watermark, error) {
	if !s.state.CAS(StateIdle, StateStarting) && !s.state.CAS(StateCancelled, StateStarting) {
		return nil, nil, apperr.NewAbort("stream already starting or running")
	}
	if err := s.CheckAutoReset(ctx); err != nil {
		if errors.Is(err, apperr.ErrAutoReset) {
			s.state.Store(StateResetRequired)
		} else {
			s.state.Store(StateFailed)
		}
		return nil, nil, err
	}

	var conn *pgconn.PgConn
	var sysIdent pglogrepl.IdentifySystemResult
	err := retry.Do(ctx, retry.SlotHandoff(), func() error {
		c, err := pgconn.ConnectConfig(ctx, s.pool.Config().ConnConfig)
		if err != nil {
			return apperr.NewTransientPG(err)
		}
		conn = c
		ident, err := pglogrepl.IdentifySystem(ctx, conn)
		if err != nil {
			return apperr.NewTransientPG(err)
		}
		sysIdent = ident
		return nil
	})
	if err != nil {
		s.state.Store(StateFailed)
		return nil, nil, err
	}
	s.log.Debug("replication_system_identified",
		slog.String("system_id", sysIdent.SystemID), slog.String("db_name", sysIdent.DBName))

	if err := s.ensureSlotAndHandoff(ctx, conn); err != nil {
		s.state.Store(StateFailed)
		return nil, nil, err
	}

	startLSN, err := fromWatermark.LSN()
	if err != nil {
		startLSN = 0
	}

	pluginArgs := []string{
		`"proto_version" '2'`,
		fmt.Sprintf(`"publication_names" '%s'`, joinCommaQuoted(s.cfg.Publications)),
	}
	if err := pglogrepl.StartReplication(ctx, conn, s.slotName, pglogrepl.LSN(startLSN), pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs}); err != nil {
		s.state.Store(StateFailed)
		return nil, nil, fmt.Errorf("pgsource: start replication: %w", err)
	}

	s.state.Store(StateStreaming)
	out := make(chan changestream.Message, 256)
	ack := make(chan watermark.Watermark, 16)
	go s.pump(ctx, conn, out, ack)
	return out, ack, nil
}

func (s *ChangeSource) ensureSlotAndHandoff(ctx context.Context, conn *pgconn.PgConn) error {
	_, err := pglogrepl.CreateReplicationSlot(ctx, conn, s.slotName, outputPlugin,
		pglogrepl.CreateReplicationSlotOptions{Temporary: false, Mode: pglogrepl.LogicalReplication})
	if err != nil {
		// Slot already existing is the common, expected case on restart.
		s.log.Debug("replication slot already exists, resuming", slog.String("slot", s.slotName))
	}
	return nil
}

// pump reads the replication stream, decodes pgoutput messages into
// changestream.Message, and sends confirmed-flush acks back to the server
// whenever the caller pushes a watermark on ackCh.
func (s *ChangeSource) pump(ctx context.Context, conn *pgconn.PgConn, out chan<- changestream.Message, ackCh <-chan watermark.Watermark) {
	defer close(out)
	defer conn.Close(ctx)

	var lastReceived pglogrepl.LSN
	nextStandby := time.Now().Add(5 * time.Second)
	var seq uint32

	for {
		select {
		case <-ctx.Done():
			s.state.Store(StateCancelled)
			return
		case w := <-ackCh:
			if lsn, err := w.LSN(); err == nil {
				_ = pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: pglogrepl.LSN(lsn)})
			}
		default:
		}

		if time.Now().After(nextStandby) {
			_ = pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: lastReceived})
			nextStandby = time.Now().Add(5 * time.Second)
		}

		recvCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
		msg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				s.state.Store(StateCancelled)
				return
			}
			continue // timeout with no data is normal; loop to send keepalives
		}

		cdMsg, ok := msg.(*pgproto3.CopyData)
		if !ok {
			continue
		}
		switch cdMsg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pka, err := pglogrepl.ParsePrimaryKeepaliveMessage(cdMsg.Data[1:])
			if err == nil && pka.ReplyRequested {
				nextStandby = time.Time{}
			}
		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(cdMsg.Data[1:])
			if err != nil {
				continue
			}
			lastReceived = xld.WALStart
			seq++
			s.decode(ctx, xld.WALData, watermark.FromLSN(uint64(xld.WALStart), seq), out)
		}
	}
}

func joinCommaQuoted(xs []string) string {
	var out string
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}
