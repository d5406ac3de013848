package lists

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/testutil"
)

func TestPostgresSource(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	src := NewPostgres(db, logging.Discard())

	require.NoError(t, src.Insert(ctx, Entry{Blocked, risk.KindIP, "198.51.100.23"}))
	require.NoError(t, src.Insert(ctx, Entry{Trusted, risk.KindUserID, "u-7"}))
	require.NoError(t, src.Insert(ctx, Entry{Trusted, risk.KindUserID, "u-7"}))

	entries, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Blocked, risk.KindIP, "198.51.100.23"},
		{Trusted, risk.KindUserID, "u-7"},
	}, entries)

	set, err := Build(ctx, nil, src)
	require.NoError(t, err)
	v := set.Classify("198.51.100.23", "", "u-7")
	assert.Equal(t, risk.ReasonBlockedIP, v.Blocked)
}
