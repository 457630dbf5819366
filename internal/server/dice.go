package server

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
)

// diceRoll is the server-side result of one dice expression.
type diceRoll struct {
	Notation string
	Rolls    []int
	Modifier int
	Total    int
}

// dicePattern matches standard "NdM", "NdM+K", "NdM-K" notation.
var dicePattern = regexp.MustCompile(`^(\d*)[dD](\d+)([+-]\d+)?$`)

// rollDice rolls a dice expression. Rolls happen server-side so every
// client sees the same result and no client can forge one.
func rollDice(notation string) (*diceRoll, error) {
	if notation == "" {
		notation = "1d20"
	}

	m := dicePattern.FindStringSubmatch(notation)
	if m == nil {
		return nil, fmt.Errorf("invalid dice notation %q", notation)
	}

	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	sides, _ := strconv.Atoi(m[2])
	modifier := 0
	if m[3] != "" {
		modifier, _ = strconv.Atoi(m[3])
	}

	if count < 1 || count > 100 {
		return nil, fmt.Errorf("dice count %d out of range", count)
	}
	if sides < 2 || sides > 1000 {
		return nil, fmt.Errorf("die size d%d out of range", sides)
	}

	roll := &diceRoll{Notation: notation, Modifier: modifier}
	for i := 0; i < count; i++ {
		r := rand.Intn(sides) + 1
		roll.Rolls = append(roll.Rolls, r)
		roll.Total += r
	}
	roll.Total += modifier
	return roll, nil
}
