package storetest

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	Project  = "proj"
	Instance = "instance"
)

// NewServer starts an in-process Bigtable emulator and returns its address.
// The emulator is stopped when the test ends.
func NewServer(t testing.TB) string {
	srv, err := bttest.NewServer("localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Close)
	return srv.Addr
}

// NewBigTable starts an emulator and returns data and admin clients connected to it.
func NewBigTable(t testing.TB) (*bigtable.Client, *bigtable.AdminClient) {
	addr := NewServer(t)
	ctx := context.Background()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}

	adminClient, err := bigtable.NewAdminClient(ctx, Project, Instance, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}

	client, err := bigtable.NewClientWithConfig(ctx, Project, Instance, bigtable.ClientConfig{MetricsProvider: bigtable.NoopMetricsProvider{}}, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}

	return client, adminClient
}
