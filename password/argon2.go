package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Parameter floors. Hashes below them are refused on both sides: NewArgon2
// rejects such a Config and Verify rejects such a stored string.
const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

const phcPrefix = "$argon2id$"

var b64 = base64.StdEncoding

// Config holds the argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Config) check() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory %d KiB is below %d", c.Memory, minMemoryKB)
	case c.Time < minTimeCost:
		return errors.New("argon2 time must be at least 1")
	case c.Parallelism < minParallelism:
		return errors.New("argon2 parallelism must be at least 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length %d is below %d", c.SaltLength, minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length %d is below %d", c.KeyLength, minKeyLength)
	}
	return nil
}

// Argon2 is the argon2id [Hasher].
type Argon2 struct {
	config Config
}

// NewArgon2 rejects parameters below the package floors.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// phc is one decoded $argon2id$ string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
}

func (p phc) String() string {
	return phcPrefix + "v=" + strconv.Itoa(argon2.Version) +
		"$m=" + strconv.FormatUint(uint64(p.memory), 10) +
		",t=" + strconv.FormatUint(uint64(p.time), 10) +
		",p=" + strconv.FormatUint(uint64(p.threads), 10) +
		"$" + b64.EncodeToString(p.salt) +
		"$" + b64.EncodeToString(p.key)
}

// Hash implements [Hasher]. The password bytes are used as given.
func (a *Argon2) Hash(password string) (string, error) {
	p := phc{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    make([]byte, a.config.SaltLength),
		key:     make([]byte, a.config.KeyLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("argon2 salt: %w", err)
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify implements [Hasher]. Anything that is not an argon2id string this
// package would accept returns [ErrMalformedHash].
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsRehash implements [Rehasher]. A stored hash is stale when any cost
// parameter is below the receiver's or its key length differs.
func (a *Argon2) NeedsRehash(encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	stale := p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.threads < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength
	return stale, nil
}

func decodePHC(s string) (phc, error) {
	rest, ok := strings.CutPrefix(s, phcPrefix)
	if !ok {
		return phc{}, errors.New("not an argon2id hash")
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return phc{}, errors.New("want version, params, salt and key")
	}

	if fields[0] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, fmt.Errorf("unsupported version %q", fields[0])
	}

	var p phc
	if err := p.parseParams(fields[1]); err != nil {
		return phc{}, err
	}

	var err error
	if p.salt, err = b64.DecodeString(fields[2]); err != nil || len(p.salt) < int(minSaltLength) {
		return phc{}, errors.New("bad salt")
	}
	if p.key, err = b64.DecodeString(fields[3]); err != nil || len(p.key) == 0 {
		return phc{}, errors.New("bad key")
	}
	return p, nil
}

// parseParams reads "m=..,t=..,p=.." in any order; each key exactly once.
func (p *phc) parseParams(s string) error {
	seen := map[string]bool{}
	for pair := range strings.SplitSeq(s, ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return fmt.Errorf("bad parameter %q", pair)
		}
		seen[name] = true

		bits := 32
		if name == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return fmt.Errorf("bad parameter %q", pair)
		}

		switch name {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			p.threads = uint8(n)
		default:
			return fmt.Errorf("unknown parameter %q", name)
		}
	}
	if len(seen) != 3 {
		return errors.New("want m, t and p")
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.threads < minParallelism {
		return errors.New("parameters below floor")
	}
	return nil
}
