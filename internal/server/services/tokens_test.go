package services

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintPostNFT(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.addAccount(t, models.RoleCreator, "0")
	post := env.addPost(owner.ID, 3, 1)

	tok, err := env.tokens.MintPostNFT(ctx, owner.ID, post, "", "art")
	require.NoError(t, err)
	assert.Equal(t, models.TokenNFT, tok.Kind)
	assert.Equal(t, "ART", tok.Symbol)
	assert.Equal(t, ("Post " + post)[:maxNFTNameLength], tok.Name)
	assert.Equal(t, uint64(1), tok.Supply)
	assert.Equal(t, []string{tok.MintAddress}, env.chain.mintTos)

	p := env.store.posts[post]
	assert.True(t, p.Tokenized)
	assert.Equal(t, tok.MintAddress, p.TokenMintAddress)

	_, err = env.tokens.MintPostNFT(ctx, owner.ID, post, "again", "")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestMintPostNFT_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.addAccount(t, models.RoleCreator, "0")
	other := env.addAccount(t, models.RoleCreator, "0")
	post := env.addPost(owner.ID, 0, 0)

	_, err := env.tokens.MintPostNFT(ctx, other.ID, post, "", "")
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = env.tokens.MintPostNFT(ctx, owner.ID, "missing", "", "")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = env.tokens.MintPostNFT(ctx, owner.ID, post, "", "WAYTOOLONGSYMBOL")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestTransferNFT(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.addAccount(t, models.RoleCreator, "0")
	buyer := env.addAccount(t, models.RoleStandard, "0")
	post := env.addPost(owner.ID, 0, 0)

	tok, err := env.tokens.MintPostNFT(ctx, owner.ID, post, "My post", "MP")
	require.NoError(t, err)

	_, err = env.tokens.TransferNFT(ctx, buyer.ID, tok.MintAddress, owner.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	trade, err := env.tokens.TransferNFT(ctx, owner.ID, tok.MintAddress, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, buyer.WalletAddress, trade.ToAddress)
	assert.True(t, dec("1").Equal(trade.Amount))

	require.Len(t, env.chain.transfers, 1)
	assert.Equal(t, owner.WalletAddress, env.chain.transfers[0].ownerAddress)
	assert.Equal(t, uint64(1), env.chain.transfers[0].amount)

	mine, err := env.tokens.ListNFTs(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)

	theirs, err := env.tokens.ListNFTs(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, tok.MintAddress, theirs[0].MintAddress)

	_, err = env.tokens.TransferNFT(ctx, buyer.ID, tok.MintAddress, buyer.ID)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestListNFTs_SkipsFungible(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addAccount(t, models.RoleCreator, "0")
	env.store.tokens["fungible"] = models.Token{MintAddress: "fungible", OwnerID: owner.ID, Kind: models.TokenFungible}
	env.store.tokens["nft"] = models.Token{MintAddress: "nft", OwnerID: owner.ID, Kind: models.TokenNFT}

	nfts, err := env.tokens.ListNFTs(context.Background(), owner.ID)
	require.NoError(t, err)
	require.Len(t, nfts, 1)
	assert.Equal(t, "nft", nfts[0].MintAddress)
}

func TestNFTMetadata_TruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii", strings.Repeat("a", 40)},
		{"two byte runes", strings.Repeat("é", 20)},
		{"three byte runes", "ab" + strings.Repeat("日", 15)},
		{"emoji", strings.Repeat("🎨", 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := nftMetadata("p-1", tt.in, "")
			require.NoError(t, err)
			assert.True(t, utf8.ValidString(got), "%q", got)
			assert.LessOrEqual(t, len(got), maxNFTNameLength)
			assert.True(t, strings.HasPrefix(tt.in, got))
			assert.Greater(t, len(got), maxNFTNameLength-utf8.UTFMax, "cut at the last whole rune")
		})
	}

	short, _, err := nftMetadata("p-1", "  Café  ", "")
	require.NoError(t, err)
	assert.Equal(t, "Café", short)
}

func TestTransferNFT_UncertainIsRecordedThenReconciled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.addAccount(t, models.RoleCreator, "0")
	buyer := env.addAccount(t, models.RoleStandard, "0")
	post := env.addPost(owner.ID, 0, 0)

	tok, err := env.tokens.MintPostNFT(ctx, owner.ID, post, "", "")
	require.NoError(t, err)

	env.chain.transferErr = uncertainErr("sig-nft")
	_, err = env.tokens.TransferNFT(ctx, owner.ID, tok.MintAddress, buyer.ID)
	require.Error(t, err)

	require.Len(t, env.store.trades, 1)
	assert.Equal(t, models.TradeNFTTransfer, env.store.trades[0].Kind)
	assert.Equal(t, models.TradeUncertain, env.store.trades[0].Status)
	assert.Equal(t, owner.ID, env.store.tokens[tok.MintAddress].OwnerID)

	sends, err := env.wallet.ReconcileSends(ctx)
	require.NoError(t, err)
	assert.Zero(t, sends, "sends and transfers reconcile separately")

	env.chain.statuses["sig-nft"] = chain.TxConfirmed
	resolved, err := env.tokens.ReconcileTransfers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, buyer.ID, env.store.tokens[tok.MintAddress].OwnerID)
	assert.Equal(t, models.TradeConfirmed, env.store.trades[0].Status)
}

func TestTransferNFT_RejectedLeavesNoTrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.addAccount(t, models.RoleCreator, "0")
	buyer := env.addAccount(t, models.RoleStandard, "0")
	post := env.addPost(owner.ID, 0, 0)

	tok, err := env.tokens.MintPostNFT(ctx, owner.ID, post, "", "")
	require.NoError(t, err)

	env.chain.transferErr = rejectedErr()
	_, err = env.tokens.TransferNFT(ctx, owner.ID, tok.MintAddress, buyer.ID)
	require.Error(t, err)
	assert.Empty(t, env.store.trades)
}
