// Package mongo implements store.Store on the official MongoDB driver.
// Suitable for deployments that already run MongoDB and want lock and
// history documents next to their tenant data.
//
// The caller owns the *mongo.Database lifecycle; the store never
// disconnects the client. Pass the database handle through the
// constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "github.com/xraph/tenantrun/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client.Database("tenantrun"))
//	store.Migrate(ctx)
//
// Lease arithmetic runs on the server ($$NOW) so every engine instance
// agrees on when a lock expires.
package mongo
