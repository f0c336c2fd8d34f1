// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package changestream

import (
	"testing"

	"github.com/zerosync/zero/internal/zero/watermark"
)

func TestRowCloneIsIndependent(t *testing.T) {
	orig := Row{"id": "1", "title": "hello"}
	clone := orig.Clone()
	clone["title"] = "changed"

	if orig["title"] != "hello" {
		t.Fatal("mutating the clone must not affect the original row")
	}
}

func TestConstructorsTagTheCorrectKind(t *testing.T) {
	if msg := Begin(); msg.Kind != KindBegin {
		t.Fatalf("Begin: got kind %v", msg.Kind)
	}
	if msg := Rollback(); msg.Kind != KindRollback {
		t.Fatalf("Rollback: got kind %v", msg.Kind)
	}
	if msg := ResetRequired(); msg.Kind != KindControl || msg.Control != ControlResetRequired {
		t.Fatalf("ResetRequired: got kind %v control %v", msg.Kind, msg.Control)
	}

	w := watermark.FromLSN(10, 0)
	if msg := Commit(w); msg.Kind != KindCommit || msg.Watermark != w {
		t.Fatalf("Commit: got kind %v watermark %v", msg.Kind, msg.Watermark)
	}
}

func TestDataConstructorsSetOpAndRows(t *testing.T) {
	ins := Insert("issue", Row{"id": "1"})
	if ins.Kind != KindData || ins.Data.Op != OpInsert || ins.Data.New["id"] != "1" {
		t.Fatalf("Insert: unexpected message %+v", ins)
	}

	upd := Update("issue", Row{"id": "1", "title": "old"}, Row{"id": "1", "title": "new"})
	if upd.Data.Op != OpUpdate || upd.Data.Old["title"] != "old" || upd.Data.New["title"] != "new" {
		t.Fatalf("Update: unexpected message %+v", upd)
	}

	del := Delete("issue", Row{"id": "1"})
	if del.Data.Op != OpDelete || del.Data.Old["id"] != "1" || del.Data.New != nil {
		t.Fatalf("Delete: unexpected message %+v", del)
	}

	trunc := Truncate("issue")
	if trunc.Data.Op != OpTruncate || trunc.Data.Table != "issue" {
		t.Fatalf("Truncate: unexpected message %+v", trunc)
	}
}
