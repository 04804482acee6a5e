package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestReadShardPairsEntries(t *testing.T) {
	buf := buildShard([]filePair{
		{key: "000001", imageExt: ".jpg", image: []byte("jpeg"), label: 3},
		{key: "000002", imageExt: ".png", image: []byte("png"), label: 7},
	})
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	var records []Record
	err := ReadShard(context.Background(), shard, 4, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadShard returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Key != "000001" || records[0].Label != 3 || records[1].Label != 7 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestReadShardIncompletePair(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(tw, "lonely.png", []byte("png"))
	tw.Close()
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	err := ReadShard(context.Background(), shard, 4, func(Record) error { return nil })
	if err == nil {
		t.Fatal("expected incomplete sample error")
	}
}

func TestReadShardPendingOverflow(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for i := 0; i < 3; i++ {
		addTarEntry(tw, strconv.Itoa(i)+".png", []byte("png"))
	}
	tw.Close()
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	err := ReadShard(context.Background(), shard, 2, func(Record) error { return nil })
	if !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("expected ErrPendingOverflow, got %v", err)
	}
}

type filePair struct {
	key      string
	imageExt string
	image    []byte
	label    int
}

func buildShard(pairs []filePair) *bytes.Buffer {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, pair := range pairs {
		addTarEntry(tw, pair.key+pair.imageExt, pair.image)
		addTarEntry(tw, pair.key+".cls", []byte(strconv.Itoa(pair.label)))
	}
	tw.Close()
	return buf
}

func addTarEntry(tw *tar.Writer, name string, data []byte) {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		panic(err)
	}
	if _, err := tw.Write(data); err != nil {
		panic(err)
	}
}
