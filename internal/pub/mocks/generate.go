//go:generate mockgen -source=../transport.go -destination=./mock_transport.go -package=mocks
//go:generate mockgen -source=../consumer.go  -destination=./mock_consumer.go  -package=mocks

package mocks
