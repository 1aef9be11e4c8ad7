package id

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// IDs are persisted as their string wire form so document filters can match
// on plain strings.

func (i ID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(i.String())
}

func (i *ID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
