package pgsource

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pglogrepl"

	"github.com/zerosync/zero/internal/zero/changestream"
	"github.com/zerosync/zero/internal/zero/typecodec"
	"github.com/zerosync/zero/internal/zero/watermark"
)

// decode turns one pgoutput message into zero or more changestream.Message
// values and sends them on out. Begin/Commit bracket a transaction;
// insert/update/delete become data messages carrying the affected row.
func (s *ChangeSource) decode(ctx context.Context, walData []byte, w watermark.Watermark, out chan<- changestream.Message) {
	msg, err := pglogrepl.Parse(walData)
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		s.relations[m.RelationID] = *m

	case *pglogrepl.BeginMessage:
		send(ctx, out, changestream.Begin())

	case *pglogrepl.CommitMessage:
		send(ctx, out, changestream.Commit(w))

	case *pglogrepl.InsertMessage:
		rel, ok := s.relations[m.RelationID]
		if !ok {
			return
		}
		row := decodeTuple(rel, m.Tuple)
		send(ctx, out, changestream.Insert(rel.RelationName, row))

	case *pglogrepl.UpdateMessage:
		rel, ok := s.relations[m.RelationID]
		if !ok {
			return
		}
		newRow := decodeTuple(rel, m.NewTuple)
		var oldRow changestream.Row
		if m.OldTuple != nil {
			oldRow = decodeTuple(rel, m.OldTuple)
		} else {
			oldRow = newRow
		}
		send(ctx, out, changestream.Update(rel.RelationName, oldRow, newRow))

	case *pglogrepl.DeleteMessage:
		rel, ok := s.relations[m.RelationID]
		if !ok {
			return
		}
		row := decodeTuple(rel, m.OldTuple)
		send(ctx, out, changestream.Delete(rel.RelationName, row))

	case *pglogrepl.TruncateMessage:
		for _, relID := range m.RelationIDs {
			if rel, ok := s.relations[relID]; ok {
				send(ctx, out, changestream.Truncate(rel.RelationName))
			}
		}
	}
}

func decodeTuple(rel pglogrepl.RelationMessage, tuple *pglogrepl.TupleData) changestream.Row {
	row := make(changestream.Row, len(rel.Columns))
	if tuple == nil {
		return row
	}
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break
		}
		name := rel.Columns[i].Name
		switch col.DataType {
		case 'n':
			row[name] = nil
		case 'u':
			// unchanged TOAST value; omitted from the wire, not representable here.
			continue
		case 't':
			row[name] = coerce(string(col.Data))
		}
	}
	return row
}

// coerce applies the minimal heuristic the text pgoutput wire format
// requires: "t"/"true" and "f"/"false" become bool, and numeric-looking
// payloads become float64 so downstream Filter comparisons and typecodec
// round-trips see the types spec.md §3 expects, except integers beyond
// 2^53, which stay verbatim decimal strings (see typecodec.EncodeBigInt);
// everything else stays a string.
func coerce(s string) any {
	if s == "t" || s == "true" {
		return true
	}
	if s == "f" || s == "false" {
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return typecodec.EncodeBigInt(n)
	} else if errors.Is(err, strconv.ErrRange) {
		return s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func send(ctx context.Context, out chan<- changestream.Message, msg changestream.Message) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}
