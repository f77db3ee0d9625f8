package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/warp/equity-vesting/generic"
)

// casTransferScript moves balance between two hash fields if both still hold
// the values the caller read. Amounts are uint256 and exceed Lua's number
// precision, so the arithmetic happens in Go and the script only compares
// and swaps the decimal strings.
// KEYS[1] = balances hash
// ARGV[1] = from, ARGV[2] = to
// ARGV[3] = expected from balance, ARGV[4] = expected to balance
// ARGV[5] = new from balance,      ARGV[6] = new to balance
var casTransferScript = redis.NewScript(`
local key = KEYS[1]
local from_cur = redis.call("HGET", key, ARGV[1]) or "0"
local to_cur = redis.call("HGET", key, ARGV[2]) or "0"
if from_cur ~= ARGV[3] or to_cur ~= ARGV[4] then
    return 0
end
redis.call("HSET", key, ARGV[1], ARGV[5], ARGV[2], ARGV[6])
return 1
`)

// casMintScript credits a holder and the total supply under the same check.
// KEYS[1] = balances hash, KEYS[2] = supply key
// ARGV[1] = holder, ARGV[2] = expected balance, ARGV[3] = expected supply
// ARGV[4] = new balance, ARGV[5] = new supply
var casMintScript = redis.NewScript(`
local bal = redis.call("HGET", KEYS[1], ARGV[1]) or "0"
local supply = redis.call("GET", KEYS[2]) or "0"
if bal ~= ARGV[2] or supply ~= ARGV[3] then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[4])
redis.call("SET", KEYS[2], ARGV[5])
return 1
`)

// errConflict signals a lost compare-and-swap; the operation is retried.
var errConflict = errors.New("custody: concurrent balance update")

const maxCASAttempts = 16

// RedisToken is the Token ledger held in Redis. Balances live in one hash
// and the supply in a string key, both under prefix.
type RedisToken struct {
	client      *redis.Client
	symbol      string
	balancesKey string
	supplyKey   string
}

// NewRedisClient builds a client the way the server config describes it.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisToken(client *redis.Client, prefix, symbol string) *RedisToken {
	return &RedisToken{
		client:      client,
		symbol:      symbol,
		balancesKey: fmt.Sprintf("%s:%s:balances", prefix, symbol),
		supplyKey:   fmt.Sprintf("%s:%s:supply", prefix, symbol),
	}
}

// Ping checks connectivity.
func (t *RedisToken) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Reserve returns a Custodian paying out of holder's balance.
func (t *RedisToken) Reserve(holder generic.Identity) *Reserve {
	return NewReserve(t, holder)
}

func (t *RedisToken) BalanceOf(ctx context.Context, identity generic.Identity) (generic.Amount, error) {
	raw, err := t.client.HGet(ctx, t.balancesKey, string(identity)).Result()
	return t.parse(raw, err)
}

func (t *RedisToken) TotalSupply(ctx context.Context) (generic.Amount, error) {
	raw, err := t.client.Get(ctx, t.supplyKey).Result()
	return t.parse(raw, err)
}

func (t *RedisToken) parse(raw string, err error) (generic.Amount, error) {
	if errors.Is(err, redis.Nil) {
		return generic.ZeroAmount(), nil
	}
	if err != nil {
		return generic.Amount{}, fmt.Errorf("redis %s: %w", t.symbol, err)
	}
	return generic.ParseAmount(raw)
}

// Mint credits amount to holder and raises the supply.
func (t *RedisToken) Mint(ctx context.Context, to generic.Identity, amount generic.Amount) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	return t.retry(ctx, func() error {
		balance, err := t.BalanceOf(ctx, to)
		if err != nil {
			return err
		}
		supply, err := t.TotalSupply(ctx)
		if err != nil {
			return err
		}
		newBalance, err := balance.Add(amount)
		if err != nil {
			return err
		}
		newSupply, err := supply.Add(amount)
		if err != nil {
			return err
		}
		return t.run(ctx, casMintScript, []string{t.balancesKey, t.supplyKey},
			string(to), balance.String(), supply.String(), newBalance.String(), newSupply.String())
	})
}

// Transfer moves amount between holders atomically. Fail-closed.
func (t *RedisToken) Transfer(ctx context.Context, from, to generic.Identity, amount generic.Amount) error {
	if !amount.IsPositive() {
		return &generic.InvalidInputError{Field: "amount", Reason: "transfer amount must be positive"}
	}
	if from == to {
		balance, err := t.BalanceOf(ctx, from)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%s: %s holds %s, needs %s: %w", t.symbol, from, balance, amount, generic.ErrInsufficientReserve)
		}
		return nil
	}
	return t.retry(ctx, func() error {
		fromBalance, err := t.BalanceOf(ctx, from)
		if err != nil {
			return err
		}
		toBalance, err := t.BalanceOf(ctx, to)
		if err != nil {
			return err
		}
		newFrom, err := fromBalance.Sub(amount)
		if err != nil {
			return fmt.Errorf("%s: %s holds %s, needs %s: %w", t.symbol, from, fromBalance, amount, generic.ErrInsufficientReserve)
		}
		newTo, err := toBalance.Add(amount)
		if err != nil {
			return err
		}
		return t.run(ctx, casTransferScript, []string{t.balancesKey},
			string(from), string(to), fromBalance.String(), toBalance.String(), newFrom.String(), newTo.String())
	})
}

func (t *RedisToken) run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) error {
	res, err := script.Run(ctx, t.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis %s script: %w", t.symbol, err)
	}
	if res != 1 {
		return errConflict
	}
	return nil
}

func (t *RedisToken) retry(ctx context.Context, op func() error) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		err := op()
		if !errors.Is(err, errConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%s: %w", t.symbol, generic.ErrConcurrentModification)
}
