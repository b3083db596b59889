// Package rastershadow renders shadow maps for shadow-casting lights.
//
// Every such light gets a cell of a shadowatlas.Pool when its content
// loads; the cells are recorded in the light's ShadowMaps so lighting
// passes can find them. A light entity's current transform is its world
// to shadow clip space matrix.
package rastershadow
