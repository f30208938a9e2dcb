package source

import (
	"regexp"
	"strings"
)

// DefaultCryptoKeywords is the base set used to keep crypto-related feed entries.
var DefaultCryptoKeywords = []string{
	"bitcoin", "btc", "ethereum", "eth", "ether", "crypto", "cryptocurrency",
	"blockchain", "altcoin", "stablecoin", "usdt", "usdc", "tether",
	"solana", "sol", "xrp", "ripple", "cardano", "ada", "dogecoin", "doge",
	"binance", "bnb", "coinbase", "kraken", "defi", "nft", "web3",
	"halving", "satoshi", "sats", "hodl", "memecoin", "airdrop",
	"layer 2", "lightning network", "staking", "on-chain", "onchain",
	"bull run", "bear market", "spot etf", "bitcoin etf",
}

// shortKeyword is the length at or below which a keyword must match a whole
// word, so "eth" does not match "method". Longer keywords only need to start
// a word: "bitcoins" matches, "together" does not match "ether".
const shortKeyword = 4

// Filter matches text against crypto keywords. Cashtags such as $BTC always match.
type Filter struct {
	keywords *regexp.Regexp
	exclude  []string
}

var cashtag = regexp.MustCompile(`\$[A-Za-z]{2,6}\b`)

// NewFilter creates a filter with the default crypto keywords plus extras.
func NewFilter(extraKeywords, excludeKeywords []string) *Filter {
	var whole, prefix []string
	for _, kw := range append(append([]string{}, DefaultCryptoKeywords...), extraKeywords...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		switch {
		case kw == "":
		case len(kw) <= shortKeyword:
			whole = append(whole, regexp.QuoteMeta(kw))
		default:
			prefix = append(prefix, regexp.QuoteMeta(kw))
		}
	}

	var alts []string
	if len(whole) > 0 {
		alts = append(alts, `\b(?:`+strings.Join(whole, "|")+`)\b`)
	}
	if len(prefix) > 0 {
		alts = append(alts, `\b(?:`+strings.Join(prefix, "|")+`)`)
	}

	f := &Filter{}
	if len(alts) > 0 {
		f.keywords = regexp.MustCompile(strings.Join(alts, "|"))
	}
	for _, kw := range excludeKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			f.exclude = append(f.exclude, kw)
		}
	}
	return f
}

// Matches reports whether text mentions a crypto keyword and no excluded one.
func (f *Filter) Matches(text string) bool {
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	if cashtag.MatchString(text) {
		return true
	}
	return f.keywords != nil && f.keywords.MatchString(lower)
}
