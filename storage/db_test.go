package storage

import (
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemDBPutGet(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("spend/policy/abc")
	if err := db.Put(key, []byte("value")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := db.Get(key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "value" {
		t.Fatalf("got %q, want value", got)
	}

	_, ok, err = db.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("missing key must report absent")
	}
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	got, _, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value mutated to %q", got)
	}
	got[0] = 'Y'
	again, _, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "original" {
		t.Fatalf("returned value aliased storage: %q", again)
	}
}

func TestJSONHelpers(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	in := sample{Name: "like", Count: 3}
	if err := PutJSON(db, []byte("k"), in); err != nil {
		t.Fatalf("put json: %v", err)
	}
	var out sample
	ok, err := GetJSON(db, []byte("k"), &out)
	if err != nil || !ok {
		t.Fatalf("get json: ok=%v err=%v", ok, err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}

	ok, err = GetJSON(db, []byte("missing"), &out)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("missing key must report absent")
	}
}

func TestLevelDBPutGet(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := db.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want v", got)
	}
	_, ok, err = db.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if ok {
		t.Fatal("absent key must report absent")
	}
}
