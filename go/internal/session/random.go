package session

import (
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Picker is the source of every random choice the session makes: holders are
// drawn uniformly over an index range and pass intervals over [min, max).
type Picker interface {
	Intn(n int) int
	Float64() float64
}

// RandomPicker is a goroutine-safe Picker over math/rand.
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker creates a picker from seed. A zero seed uses the current time.
func NewRandomPicker(seed int64) *RandomPicker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomPicker{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomPicker) Intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(n)
}

func (p *RandomPicker) Float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}

// drawInterval returns lo + U[0,1) * (hi - lo).
func drawInterval(p Picker, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.Float64()*float64(hi-lo))
}

// NewPlayerID returns "player_" followed by 9 lowercase base36 characters.
func NewPlayerID() string {
	id := uuid.New()
	s := new(big.Int).SetBytes(id[:]).Text(36)
	if len(s) < 9 {
		s = strings.Repeat("0", 9-len(s)) + s
	}
	return "player_" + s[:9]
}

// DisplayName shortens a wallet address to its first 6 and last 4 characters.
func DisplayName(address string) string {
	if len(address) < 10 {
		return address
	}
	return fmt.Sprintf("%s...%s", address[:6], address[len(address)-4:])
}
