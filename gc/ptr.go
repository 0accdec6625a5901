package gc

import "unsafe"

// rawPointer exposes an object's identity as an integer-convertible
// pointer purely for card-shard distribution (Barrier.Record); it is
// never dereferenced through unsafe, only compared/hashed.
func rawPointer(o *Object) unsafe.Pointer {
	return unsafe.Pointer(o)
}
