//go:build windows

package store

// InvokingOwner has no meaning on Windows; ownership is never changed there.
func InvokingOwner() Owner {
	return Owner{UID: -1, GID: -1}
}
