package frontier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seekerlabs/crawld/internal/urlnorm"
)

const (
	// cashKeyPrefix namespaces OPIC cash accumulators in Redis.
	cashKeyPrefix = "cash:"

	// cashTTL bounds how long idle cash survives.
	cashTTL = 24 * time.Hour

	// initialCash is the cash a newly discovered URL carries.
	initialCash = 1.0
)

// distributeCashScript moves a completed page's cash to its outbound links in
// one atomic step. KEYS[1] is the source accumulator, KEYS[2..] the child
// accumulators; ARGV[1] is the TTL in seconds. The source is read (defaulting
// to the initial grant), split evenly across children, and reset to zero.
var distributeCashScript = redis.NewScript(`
local cash = tonumber(redis.call('GET', KEYS[1]) or '1.0')
redis.call('SET', KEYS[1], '0', 'EX', ARGV[1])
local children = #KEYS - 1
if children == 0 or cash <= 0 then
  return '0'
end
local share = cash / children
for i = 2, #KEYS do
  redis.call('INCRBYFLOAT', KEYS[i], share)
  redis.call('EXPIRE', KEYS[i], ARGV[1])
end
return tostring(share)
`)

// OPIC implements On-line Page Importance Computation. Every URL carries
// cash; crawling a page forwards its cash to the pages it links to, so
// heavily linked pages accumulate cash and rise in the frontier.
type OPIC struct {
	client *redis.Client
}

// NewOPIC creates an OPIC strategy backed by the given Redis client.
func NewOPIC(client *redis.Client) *OPIC {
	return &OPIC{client: client}
}

func (o *OPIC) Name() string { return StrategyOPIC }

// Priority reads the URL's accumulated cash and combines it with domain
// authority, change frequency, and a logarithmic depth discount.
func (o *OPIC) Priority(ctx context.Context, sig Signals) (float64, error) {
	cash, err := o.Cash(ctx, sig.URL)
	if err != nil {
		return 0, err
	}

	freshness := 1 + sig.ChangeFreq/10

	return cash * sig.DomainAuthority * freshness / math.Log(float64(sig.Depth)+2), nil
}

// Cash returns the URL's current cash balance. URLs with no recorded balance
// hold the initial grant.
func (o *OPIC) Cash(ctx context.Context, rawURL string) (float64, error) {
	cash, err := o.client.Get(ctx, cashKey(rawURL)).Float64()
	if err == redis.Nil {
		return initialCash, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opic cash get: %w", err)
	}

	return cash, nil
}

// Distribute splits the source page's cash evenly among its outbound links
// and zeroes the source. A page with no outbound links simply forfeits its
// cash.
func (o *OPIC) Distribute(ctx context.Context, sourceURL string, outboundURLs []string) error {
	keys := make([]string, 0, len(outboundURLs)+1)
	keys = append(keys, cashKey(sourceURL))
	for _, u := range outboundURLs {
		keys = append(keys, cashKey(u))
	}

	ttlSeconds := int(cashTTL / time.Second)

	if err := distributeCashScript.Run(ctx, o.client, keys, ttlSeconds).Err(); err != nil {
		return fmt.Errorf("opic distribute: %w", err)
	}

	return nil
}

// cashKey derives the accumulator key from the URL's canonical hash. Inputs
// are already canonical; anything unparseable is hashed as-is so the key is
// still stable.
func cashKey(rawURL string) string {
	hash, err := urlnorm.URLHash(rawURL)
	if err != nil {
		hash = urlnorm.HashCanonical(rawURL)
	}

	return cashKeyPrefix + hash
}
