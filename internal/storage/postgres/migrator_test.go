package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func pair(version, name string) fstest.MapFS {
	return fstest.MapFS{
		"m/" + version + "_" + name + ".up.sql":   {Data: []byte("CREATE TABLE " + name + " (id INT);")},
		"m/" + version + "_" + name + ".down.sql": {Data: []byte("DROP TABLE " + name + ";")},
	}
}

func merge(parts ...fstest.MapFS) fstest.MapFS {
	out := fstest.MapFS{}
	for _, p := range parts {
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

func TestParseMigrations_OrdersByVersion(t *testing.T) {
	set, err := parseMigrations(merge(pair("0010", "late"), pair("0002", "payments"), pair("0001", "catalog")), "m")
	require.NoError(t, err)

	require.Len(t, set, 3)
	require.Equal(t, []int64{1, 2, 10}, []int64{set[0].Version, set[1].Version, set[2].Version})
	require.Equal(t, "0002_payments", set[1].String())
	require.Equal(t, "DROP TABLE late;", set[2].DownSQL)
}

func TestParseMigrations_Rejects(t *testing.T) {
	cases := map[string]struct {
		fsys fstest.MapFS
		want string
	}{
		"up without down": {
			fsys: fstest.MapFS{"m/0001_catalog.up.sql": {Data: []byte("SELECT 1;")}},
			want: "both up and down",
		},
		"bad file name": {
			fsys: merge(pair("0001", "catalog"), fstest.MapFS{"m/readme.sql": {Data: []byte("--")}}),
			want: "invalid migration file name",
		},
		"blank script": {
			fsys: fstest.MapFS{
				"m/0001_catalog.up.sql":   {Data: []byte(" \n\t")},
				"m/0001_catalog.down.sql": {Data: []byte("DROP TABLE catalog;")},
			},
			want: "empty",
		},
		"names differ": {
			fsys: fstest.MapFS{
				"m/0001_catalog.up.sql":  {Data: []byte("SELECT 1;")},
				"m/0001_orders.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "name mismatch",
		},
		"missing directory": {
			fsys: fstest.MapFS{},
			want: "no migration files",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseMigrations(tc.fsys, "m")
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestMigrationSet_Planning(t *testing.T) {
	set, err := parseMigrations(merge(pair("0001", "a"), pair("0002", "b"), pair("0003", "c"), pair("0004", "d")), "m")
	require.NoError(t, err)
	versions := func(ms []migration) []int64 {
		out := make([]int64, 0, len(ms))
		for _, m := range ms {
			out = append(out, m.Version)
		}
		return out
	}

	applied := map[int64]bool{1: true, 3: true}
	require.Equal(t, []int64{2, 4}, versions(set.pending(applied, 0)))
	require.Equal(t, []int64{2}, versions(set.pending(applied, 1)))
	require.Equal(t, MigrationState{CurrentVersion: 3, Applied: 2, Pending: 2}, set.state(applied))

	down, err := set.rollback(applied, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, versions(down))

	down, err = set.rollback(applied, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 1}, versions(down))

	_, err = set.rollback(map[int64]bool{7: true}, 1)
	require.ErrorContains(t, err, "unknown migration version 7")

	require.Equal(t, MigrationState{Pending: 4}, set.state(nil))
}

func TestEmbeddedMigrations(t *testing.T) {
	set, err := parseMigrations(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.Len(t, set, 3)
	require.Contains(t, set[0].UpSQL, "order_number_sequences")
	require.Contains(t, set[1].UpSQL, "payments_order_id_key")
	require.Contains(t, set[2].UpSQL, "idempotency_keys")
}
