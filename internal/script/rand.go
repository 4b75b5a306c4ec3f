package script

import "math/rand"

// randFloat32 backs api_randf. Package-level rather than per-instance so
// every tenant draws from one shared source rather than seeding a
// generator per VM fork.
func randFloat32() float32 {
	return rand.Float32()
}
