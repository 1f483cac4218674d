package kvstore

import "strings"

// Key layout. Ids never contain the separator byte.
//
//	i\x00<item>                    -> Item
//	r\x00<user>\x00<item>          -> Reservation
//	x\x00<item>\x00<user>          -> empty (reservations by item index)
//	p\x00<purchase>                -> Purchase
const sep = "\x00"

func itemKey(itemID string) []byte {
	return []byte("i" + sep + itemID)
}

func reservationKey(userID, itemID string) []byte {
	return []byte("r" + sep + userID + sep + itemID)
}

func userPrefix(userID string) []byte {
	return []byte("r" + sep + userID + sep)
}

func itemIndexKey(itemID, userID string) []byte {
	return []byte("x" + sep + itemID + sep + userID)
}

func itemIndexPrefix(itemID string) []byte {
	return []byte("x" + sep + itemID + sep)
}

func purchaseKey(purchaseID string) []byte {
	return []byte("p" + sep + purchaseID)
}

// lastSegment returns the part of key after the final separator
func lastSegment(key []byte) string {
	s := string(key)
	return s[strings.LastIndex(s, sep)+1:]
}
