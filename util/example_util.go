package util

import (
	"fmt"
)

func ExampleLimiter_Clamp() {
	l := Limiter{Min: -10, Max: 10}
	fmt.Println(l.Clamp(25))
	// Output: 10
}

func ExampleClamp() {
	fmt.Println(Clamp(-25, -10, 10))
	// Output: -10
}
