package storage

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/R3E-Network/integration_layer/domain/shared"
)

func TestShapeFilterAddsSoftDeleteGuard(t *testing.T) {
	shaped := shapeFilter(bson.M{"key": "test::stripe"})
	if shaped["deleted"] != false {
		t.Errorf("deleted = %v, want false", shaped["deleted"])
	}
	if shaped["key"] != "test::stripe" {
		t.Errorf("key = %v", shaped["key"])
	}
}

func TestShapeFilterRespectsExplicitDeleted(t *testing.T) {
	shaped := shapeFilter(bson.M{"deleted": true})
	if shaped["deleted"] != true {
		t.Errorf("deleted = %v, want caller's true", shaped["deleted"])
	}
}

func TestScopedFilter(t *testing.T) {
	scoped := ScopedFilter(bson.M{"key": "abc"}, "build-1", shared.EnvLive)
	if scoped["ownership.id"] != "build-1" {
		t.Errorf("ownership.id = %v", scoped["ownership.id"])
	}
	if scoped["environment"] != shared.EnvLive {
		t.Errorf("environment = %v", scoped["environment"])
	}
	if scoped["key"] != "abc" {
		t.Errorf("key = %v", scoped["key"])
	}
}
