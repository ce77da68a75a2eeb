package stepup

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/davidleathers/adaptive-auth-backend/internal/domain/challenge"
)

// challengeSpec is the raw material for one challenge before it is stored.
type challengeSpec struct {
	prompt string
	answer string
	hints  []string
}

// captchaAlphabet deliberately omits characters users confuse when retyping:
// 0/O, 1/l/I, and 5/S.
const captchaAlphabet = "abcdefghjkmnpqrtuvwxyz2346789"

const captchaLength = 5

func generate(kind challenge.Kind, rng *rand.Rand) challengeSpec {
	switch kind {
	case challenge.KindMath:
		return generateMath(rng)
	case challenge.KindPattern:
		return generatePattern(rng)
	case challenge.KindMemory:
		return generateMemory(rng)
	case challenge.KindCaptcha:
		return generateCaptcha(rng)
	case challenge.KindSecurityQuestion:
		return generateSecurityQuestion(rng)
	default:
		return generateMath(rng)
	}
}

func generateMath(rng *rand.Rand) challengeSpec {
	a := rng.Intn(11) + 2
	b := rng.Intn(11) + 2

	var op string
	var result int
	switch rng.Intn(3) {
	case 0:
		op, result = "+", a+b
	case 1:
		if a < b {
			a, b = b, a
		}
		op, result = "-", a-b
	default:
		op, result = "*", a*b
	}

	return challengeSpec{
		prompt: fmt.Sprintf("What is %d %s %d?", a, op, b),
		answer: strconv.Itoa(result),
		hints:  []string{"Enter the number only"},
	}
}

func generatePattern(rng *rand.Rand) challengeSpec {
	var terms [5]int
	if rng.Intn(2) == 0 {
		start := rng.Intn(9) + 1
		step := rng.Intn(5) + 2
		for i := range terms {
			terms[i] = start + i*step
		}
	} else {
		start := rng.Intn(4) + 2
		for i := range terms {
			terms[i] = start << i
		}
	}

	shown := make([]string, 4)
	for i := 0; i < 4; i++ {
		shown[i] = strconv.Itoa(terms[i])
	}

	return challengeSpec{
		prompt: fmt.Sprintf("What number comes next: %s, ...?", strings.Join(shown, ", ")),
		answer: strconv.Itoa(terms[4]),
		hints:  []string{"Look at how the numbers grow"},
	}
}

func generateMemory(rng *rand.Rand) challengeSpec {
	length := rng.Intn(3) + 4
	digits := make([]string, length)
	for i := range digits {
		digits[i] = strconv.Itoa(rng.Intn(10))
	}
	sequence := strings.Join(digits, " ")

	return challengeSpec{
		prompt: "Memorize this sequence, then type it back: " + sequence,
		answer: sequence,
		hints:  []string{fmt.Sprintf("%d digits, separated by spaces", length)},
	}
}

func generateCaptcha(rng *rand.Rand) challengeSpec {
	chars := make([]byte, captchaLength)
	for i := range chars {
		chars[i] = captchaAlphabet[rng.Intn(len(captchaAlphabet))]
	}
	code := string(chars)

	return challengeSpec{
		prompt: "Type the characters: " + code,
		answer: code,
		hints:  []string{"Case does not matter"},
	}
}

// securityQuestions are general-knowledge prompts the server can verify
// without any enrollment step.
var securityQuestions = []challengeSpec{
	{
		prompt: "Which planet is known as the Red Planet?",
		answer: "Mars",
		hints:  []string{"Fourth from the sun"},
	},
	{
		prompt: "What is the capital of France?",
		answer: "Paris",
		hints:  []string{"Home of the Eiffel Tower"},
	},
	{
		prompt: "How many days are in a leap year?",
		answer: "366",
		hints:  []string{"One more than usual"},
	},
	{
		prompt: "Which ocean is the largest?",
		answer: "Pacific",
		hints:  []string{"It borders Asia and the Americas"},
	},
	{
		prompt: "What color do you get when you mix blue and yellow?",
		answer: "Green",
		hints:  []string{"The color of grass"},
	},
	{
		prompt: "Which animal is known as man's best friend?",
		answer: "Dog",
		hints:  []string{"It barks"},
	},
	{
		prompt: "What is the opposite of north?",
		answer: "South",
		hints:  []string{"Down on most maps"},
	},
	{
		prompt: "How many minutes are in an hour?",
		answer: "60",
		hints:  []string{"Think of a clock face"},
	},
	{
		prompt: "What do bees make?",
		answer: "Honey",
		hints:  []string{"It is sweet"},
	},
	{
		prompt: "How many sides does a triangle have?",
		answer: "3",
		hints:  []string{"Fewer than a square"},
	},
}

func generateSecurityQuestion(rng *rand.Rand) challengeSpec {
	return securityQuestions[rng.Intn(len(securityQuestions))]
}
