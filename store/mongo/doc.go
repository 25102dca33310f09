// Package mongo implements the job store on MongoDB using the official
// mongo-driver/v2. Claims are single FindOneAndUpdate calls sorted by
// run_at then _id, which MongoDB applies atomically per document.
// Retries use an aggregation pipeline update so the attempts check and the
// resulting state are decided server side.
package mongo
